// Package staging implements the per-user staging store (C4): normalizes
// canonical-keyed rows (via internal/normalize and internal/identity),
// deduplicates a batch in memory, and upserts on the user-scoped unique
// key, rebinding a previously-seen row to the current run.
//
// Grounded on internal/service/contact.go's ImportContacts (single
// transaction, per-row existence check, ON CONFLICT upsert) and on the
// date-coercion formats implied by staging_common usage in
// original_source/server/app/dao.
package staging

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mailtrace/core/internal/apperr"
	"github.com/mailtrace/core/internal/identity"
	"github.com/mailtrace/core/internal/model"
	"github.com/mailtrace/core/internal/normalize"
)

// rowHash is a sha1 of the canonical mapped row (its string values, before
// date/decimal coercion), stored purely for diagnostics; nothing reads it
// back, and it is never part of a uniqueness or matching decision
// (SPEC_FULL §3 supplement).
func rowHash(row map[string]string) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha1.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(row[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// dateLayouts are tried in order; the first one that parses wins (§4.4).
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"01-02-2006",
	"02-01-2006",
	"2006/01/02",
	"01/02/06",
	"02-01-06",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// CoerceDate parses s against the accepted formats; returns nil if none
// match or s is blank.
func CoerceDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// CoerceDecimal parses s as a decimal money amount; returns zero on blank
// or unparsable input.
func CoerceDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Store owns the normalized staging tables.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// mailCandidate is a canonical-keyed mail row prior to staging.
type mailCandidate struct {
	SourceID string
	Address1 string
	Address2 string
	City     string
	State    string
	Zip      string
	SentDate *time.Time

	FullAddress string
	MailKey     string
	RowHash     string
}

// UpsertMail normalizes, dedupes in-memory by mail_key, and upserts mail
// rows for runID/userID. Returns the count actually inserted/updated (rows
// dropped for lacking an identity are not counted).
func (s *Store) UpsertMail(ctx context.Context, runID int64, userID string, rows []map[string]string) (int, error) {
	candidates := make(map[string]*mailCandidate)
	order := make([]string, 0, len(rows))
	for _, row := range rows {
		sentDate := CoerceDate(row["sent_date"])
		if sentDate == nil {
			continue // a mail row with null sent_date cannot participate in the date window
		}
		full := normalize.BuildFullAddress(row["address1"], row["address2"], row["city"], row["state"], row["zip"])
		key := identity.MailKey(row["source_id"], full, sentDate)
		if key == "" {
			continue
		}
		if _, exists := candidates[key]; !exists {
			order = append(order, key)
		}
		candidates[key] = &mailCandidate{
			SourceID: strings.TrimSpace(row["source_id"]),
			Address1: row["address1"], Address2: row["address2"],
			City: row["city"], State: row["state"], Zip: row["zip"],
			SentDate: sentDate, FullAddress: full, MailKey: key,
			RowHash: rowHash(row),
		}
	}

	if len(order) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Internal("begin mail upsert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO staging_mail (run_id, line_no, user_id, mail_key, source_id, address1, address2, city, state, zip, full_address, sent_date, source_row_hash)
		VALUES ($1, $2, $3, $4, NULLIF($5,''), $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id, mail_key) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			line_no = EXCLUDED.line_no,
			source_id = COALESCE(EXCLUDED.source_id, staging_mail.source_id),
			address1 = EXCLUDED.address1,
			address2 = EXCLUDED.address2,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			zip = EXCLUDED.zip,
			full_address = EXCLUDED.full_address,
			sent_date = EXCLUDED.sent_date,
			source_row_hash = EXCLUDED.source_row_hash
	`)
	if err != nil {
		return 0, apperr.Internal("prepare mail upsert", err)
	}
	defer stmt.Close()

	lineNo := 1
	for _, key := range order {
		c := candidates[key]
		if _, err := stmt.ExecContext(ctx, runID, lineNo, userID, c.MailKey, c.SourceID,
			c.Address1, c.Address2, c.City, c.State, c.Zip, c.FullAddress, c.SentDate, c.RowHash); err != nil {
			return 0, apperr.Internal("upsert mail row", err)
		}
		lineNo++
	}

	if err := tx.Commit(); err != nil {
		return 0, apperr.Internal("commit mail upsert", err)
	}
	return len(order), nil
}

type crmCandidate struct {
	SourceID string
	Address1 string
	Address2 string
	City     string
	State    string
	Zip      string
	JobDate  *time.Time
	JobValue decimal.Decimal
	HasValue bool

	FullAddress string
	JobIndex    string
	RowHash     string
}

// UpsertCRM mirrors UpsertMail, keyed on job_index; job_value follows
// coalesce(incoming, existing) so a blank value never clobbers a prior one.
func (s *Store) UpsertCRM(ctx context.Context, runID int64, userID string, rows []map[string]string) (int, error) {
	candidates := make(map[string]*crmCandidate)
	order := make([]string, 0, len(rows))
	for _, row := range rows {
		jobDate := CoerceDate(row["job_date"])
		full := normalize.BuildFullAddress(row["address1"], row["address2"], row["city"], row["state"], row["zip"])
		sourceID := strings.TrimSpace(row["source_id"])
		if sourceID == "" && (full == "" || jobDate == nil) {
			continue // no authoritative id, and AND-inputs incomplete: cannot synthesize job_index
		}
		key := identity.JobIndex(sourceID, full, jobDate)
		if key == "" {
			continue
		}
		valRaw := strings.TrimSpace(row["job_value"])
		val := CoerceDecimal(valRaw)
		if _, exists := candidates[key]; !exists {
			order = append(order, key)
		}
		candidates[key] = &crmCandidate{
			SourceID: sourceID,
			Address1: row["address1"], Address2: row["address2"],
			City: row["city"], State: row["state"], Zip: row["zip"],
			JobDate: jobDate, JobValue: val, HasValue: valRaw != "",
			FullAddress: full, JobIndex: key,
			RowHash: rowHash(row),
		}
	}

	if len(order) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Internal("begin crm upsert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO staging_crm (run_id, line_no, user_id, job_index, source_id, address1, address2, city, state, zip, full_address, job_date, job_value, source_row_hash)
		VALUES ($1, $2, $3, $4, NULLIF($5,''), $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id, job_index) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			line_no = EXCLUDED.line_no,
			source_id = COALESCE(EXCLUDED.source_id, staging_crm.source_id),
			address1 = EXCLUDED.address1,
			address2 = EXCLUDED.address2,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			zip = EXCLUDED.zip,
			full_address = EXCLUDED.full_address,
			job_date = EXCLUDED.job_date,
			job_value = COALESCE(EXCLUDED.job_value, staging_crm.job_value),
			source_row_hash = EXCLUDED.source_row_hash
	`)
	if err != nil {
		return 0, apperr.Internal("prepare crm upsert", err)
	}
	defer stmt.Close()

	lineNo := 1
	for _, key := range order {
		c := candidates[key]
		var jobValue interface{}
		if c.HasValue {
			jobValue = c.JobValue.StringFixed(2)
		} else {
			jobValue = nil
		}
		if _, err := stmt.ExecContext(ctx, runID, lineNo, userID, c.JobIndex, c.SourceID,
			c.Address1, c.Address2, c.City, c.State, c.Zip, c.FullAddress, c.JobDate, jobValue, c.RowHash); err != nil {
			return 0, apperr.Internal("upsert crm row", err)
		}
		lineNo++
	}

	if err := tx.Commit(); err != nil {
		return 0, apperr.Internal("commit crm upsert", err)
	}
	return len(order), nil
}

// CountForRun returns how many staging rows exist for runID in the given
// table, used by the dedupe controller's pair_ready gate.
func (s *Store) CountForRun(ctx context.Context, table string, runID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE run_id = $1", runID).Scan(&n)
	if err != nil {
		return 0, apperr.Internal("count staging rows", err)
	}
	return n, nil
}

// FetchMailForRun loads normalized mail staging rows for the matcher (§4.5).
func (s *Store) FetchMailForRun(ctx context.Context, runID int64) ([]model.MailStagingRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, line_no, user_id, mail_key, COALESCE(source_id,''), address1, COALESCE(address2,''), city, state, zip, full_address, sent_date
		FROM staging_mail WHERE run_id = $1`, runID)
	if err != nil {
		return nil, apperr.Internal("fetch mail staging", err)
	}
	defer rows.Close()

	var out []model.MailStagingRow
	for rows.Next() {
		var r model.MailStagingRow
		if err := rows.Scan(&r.RunID, &r.LineNo, &r.UserID, &r.MailKey, &r.SourceID,
			&r.Address1, &r.Address2, &r.City, &r.State, &r.Zip, &r.FullAddress, &r.SentDate); err != nil {
			return nil, apperr.Internal("scan mail staging", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FetchMailForUser loads every normalized mail row for userID across all
// runs; since staging_mail is unique on (user_id, mail_key), this is
// already the deduped, latest-run-wins view used by the all-time aggregate
// (§10 supplemented feature).
func (s *Store) FetchMailForUser(ctx context.Context, userID string) ([]model.MailStagingRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, line_no, user_id, mail_key, COALESCE(source_id,''), address1, COALESCE(address2,''), city, state, zip, full_address, sent_date
		FROM staging_mail WHERE user_id = $1`, userID)
	if err != nil {
		return nil, apperr.Internal("fetch mail staging for user", err)
	}
	defer rows.Close()

	var out []model.MailStagingRow
	for rows.Next() {
		var r model.MailStagingRow
		if err := rows.Scan(&r.RunID, &r.LineNo, &r.UserID, &r.MailKey, &r.SourceID,
			&r.Address1, &r.Address2, &r.City, &r.State, &r.Zip, &r.FullAddress, &r.SentDate); err != nil {
			return nil, apperr.Internal("scan mail staging", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FetchCRMForUser mirrors FetchMailForUser for CRM staging.
func (s *Store) FetchCRMForUser(ctx context.Context, userID string) ([]model.CRMStagingRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, line_no, user_id, job_index, COALESCE(source_id,''), address1, COALESCE(address2,''), city, state, zip, full_address, job_date, job_value
		FROM staging_crm WHERE user_id = $1`, userID)
	if err != nil {
		return nil, apperr.Internal("fetch crm staging for user", err)
	}
	defer rows.Close()

	var out []model.CRMStagingRow
	for rows.Next() {
		var r model.CRMStagingRow
		var jobValue sql.NullString
		if err := rows.Scan(&r.RunID, &r.LineNo, &r.UserID, &r.JobIndex, &r.SourceID,
			&r.Address1, &r.Address2, &r.City, &r.State, &r.Zip, &r.FullAddress, &r.JobDate, &jobValue); err != nil {
			return nil, apperr.Internal("scan crm staging", err)
		}
		if jobValue.Valid {
			r.JobValue, _ = decimal.NewFromString(jobValue.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FetchCRMForRun loads normalized CRM staging rows for the matcher (§4.5).
func (s *Store) FetchCRMForRun(ctx context.Context, runID int64) ([]model.CRMStagingRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, line_no, user_id, job_index, COALESCE(source_id,''), address1, COALESCE(address2,''), city, state, zip, full_address, job_date, job_value
		FROM staging_crm WHERE run_id = $1`, runID)
	if err != nil {
		return nil, apperr.Internal("fetch crm staging", err)
	}
	defer rows.Close()

	var out []model.CRMStagingRow
	for rows.Next() {
		var r model.CRMStagingRow
		var jobValue sql.NullString
		if err := rows.Scan(&r.RunID, &r.LineNo, &r.UserID, &r.JobIndex, &r.SourceID,
			&r.Address1, &r.Address2, &r.City, &r.State, &r.Zip, &r.FullAddress, &r.JobDate, &jobValue); err != nil {
			return nil, apperr.Internal("scan crm staging", err)
		}
		if jobValue.Valid {
			r.JobValue, _ = decimal.NewFromString(jobValue.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
