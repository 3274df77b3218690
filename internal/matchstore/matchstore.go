// Package matchstore implements C6: idempotent, batched upsert of match
// rows keyed on (user_id, job_index). A re-run replaces prior rows for
// overlapping job_index values; unrelated jobs are untouched.
//
// Grounded on matches_dao.bulk_insert (referenced from
// server/app/services/matching.py's persist_matches_for_run) and on the
// teacher's batched-prepared-statement style in
// internal/service/contact.go's ImportContacts.
package matchstore

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/mailtrace/core/internal/apperr"
	"github.com/mailtrace/core/internal/model"
)

const batchSize = 1000

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertBatch writes matches in chunks of batchSize, each chunk in its own
// transaction, upserting on (user_id, job_index) (§4.6).
func (s *Store) UpsertBatch(ctx context.Context, matches []model.Match) error {
	for start := 0; start < len(matches); start += batchSize {
		end := start + batchSize
		if end > len(matches) {
			end = len(matches)
		}
		if err := s.upsertChunk(ctx, matches[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertChunk(ctx context.Context, chunk []model.Match) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Internal("begin match upsert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO matches (
			user_id, run_id, job_index, crm_line_no, crm_job_date, job_value,
			crm_city, crm_state, crm_zip, crm_full_address, mail_full_address,
			mail_ids, matched_mail_dates, confidence_percent, match_notes, zip5, state
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (user_id, job_index) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			crm_line_no = EXCLUDED.crm_line_no,
			crm_job_date = EXCLUDED.crm_job_date,
			job_value = EXCLUDED.job_value,
			crm_city = EXCLUDED.crm_city,
			crm_state = EXCLUDED.crm_state,
			crm_zip = EXCLUDED.crm_zip,
			crm_full_address = EXCLUDED.crm_full_address,
			mail_full_address = EXCLUDED.mail_full_address,
			mail_ids = EXCLUDED.mail_ids,
			matched_mail_dates = EXCLUDED.matched_mail_dates,
			confidence_percent = EXCLUDED.confidence_percent,
			match_notes = EXCLUDED.match_notes,
			zip5 = EXCLUDED.zip5,
			state = EXCLUDED.state
	`)
	if err != nil {
		return apperr.Internal("prepare match upsert", err)
	}
	defer stmt.Close()

	for _, m := range chunk {
		dates := make([]string, len(m.MatchedMailDates))
		for i, d := range m.MatchedMailDates {
			dates[i] = d.Format("2006-01-02")
		}
		if _, err := stmt.ExecContext(ctx,
			m.UserID, m.RunID, m.JobIndex, m.CRMLineNo, m.CRMJobDate, m.JobValue.StringFixed(2),
			m.CRMCity, m.CRMState, m.CRMZip, m.CRMFullAddress, m.MailFullAddress,
			pq.Array(m.MailIDs), pq.Array(dates), m.ConfidencePercent, m.MatchNotes,
			m.Zip5, m.State,
		); err != nil {
			return apperr.Internal("upsert match row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Internal("commit match upsert", err)
	}
	return nil
}

// CountForUser returns the number of persisted match rows for userID,
// independent of run — "historical match counts are derived from the
// matches table, not from a separate counter" (§4.6).
func (s *Store) CountForUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM matches WHERE user_id = $1", userID).Scan(&n)
	if err != nil {
		return 0, apperr.Internal("count matches", err)
	}
	return n, nil
}

// CountForRun returns the number of match rows carrying runID — note a
// prior run's rows for unrelated job_index values remain untouched by a
// later run, so this is run-scoped only for rows this run actually wrote.
func (s *Store) CountForRun(ctx context.Context, runID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM matches WHERE run_id = $1", runID).Scan(&n)
	if err != nil {
		return 0, apperr.Internal("count matches for run", err)
	}
	return n, nil
}
