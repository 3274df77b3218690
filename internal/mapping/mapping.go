// Package mapping implements the two-phase ingest + mapping engine (C3):
// land raw rows verbatim, then let the caller declare a canonical mapping
// with alias fallback before the pipeline applies it.
//
// Grounded on MAIL_CANON_MAP/CRM_CANON_MAP and _canonize_row in
// server/app/services/matching.py, and on the Contact/Campaign service
// pattern in the teacher (internal/service/contact.go) for the
// transactional upsert/replace style against *sql.DB.
package mapping

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mailtrace/core/internal/apperr"
	"github.com/mailtrace/core/internal/model"
)

// AliasMap is canonical field -> candidate raw header names, tried in
// order after an explicit mapping entry and the raw header's own name.
type AliasMap map[string][]string

// MailAliases is the per-source alias list for mail rows (§4.3).
var MailAliases = AliasMap{
	"source_id": {"id", "mail_id"},
	"address1":  {"address1", "addr1", "address", "street", "line1"},
	"address2":  {"address2", "addr2", "unit", "line2"},
	"city":      {"city", "town"},
	"state":     {"state", "st"},
	"zip":       {"postal_code", "zip", "zipcode", "zip_code"},
	"sent_date": {"sent_date", "date", "mail_date", "postmark"},
}

// CRMAliases is the per-source alias list for CRM rows (§4.3).
var CRMAliases = AliasMap{
	"source_id": {"crm_id", "id", "lead_id", "job_id"},
	"address1":  {"address1", "addr1", "address", "street", "line1"},
	"address2":  {"address2", "addr2", "unit", "line2"},
	"city":      {"city", "town"},
	"state":     {"state", "st"},
	"zip":       {"postal_code", "zip", "zipcode", "zip_code"},
	"job_date":  {"job_date", "date", "created_at"},
	"job_value": {"job_value", "amount", "value", "revenue"},
}

// RequiredMailFields are the canonical fields start_pipeline requires to
// be satisfiable (explicitly mapped, or present via alias fallback) before
// normalizing mail rows.
var RequiredMailFields = []string{"address1", "city", "state", "zip", "sent_date"}

// RequiredCRMFields mirrors RequiredMailFields for the CRM source.
var RequiredCRMFields = []string{"address1", "city", "state", "zip", "job_date"}

func AliasesFor(source model.Source) AliasMap {
	if source == model.SourceCRM {
		return CRMAliases
	}
	return MailAliases
}

func RequiredFor(source model.Source) []string {
	if source == model.SourceCRM {
		return RequiredCRMFields
	}
	return RequiredMailFields
}

func rawTable(source model.Source) string {
	if source == model.SourceCRM {
		return "staging_raw_crm"
	}
	return "staging_raw_mail"
}

// Engine owns the raw-landing and mapping tables.
type Engine struct {
	db *sql.DB
}

func NewEngine(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// IngestRaw replaces all raw rows for (runID, source) with rows, assigning
// rownum starting at 1, inside a single transaction (§4.3, §5).
func (e *Engine) IngestRaw(ctx context.Context, runID int64, userID string, source model.Source, rows []map[string]string) (int, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Internal("begin ingest_raw transaction", err)
	}
	defer tx.Rollback()

	table := rawTable(source)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1`, table), runID); err != nil {
		return 0, apperr.Internal("clear prior raw rows", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (run_id, user_id, rownum, data) VALUES ($1, $2, $3, $4)`, table))
	if err != nil {
		return 0, apperr.Internal("prepare raw insert", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return 0, apperr.Internal("marshal raw row", err)
		}
		if _, err := stmt.ExecContext(ctx, runID, userID, i+1, data); err != nil {
			return 0, apperr.Internal("insert raw row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, apperr.Internal("commit ingest_raw", err)
	}
	return len(rows), nil
}

// SaveMapping upserts the canonical-field -> raw-header mapping for
// (runID, source).
func (e *Engine) SaveMapping(ctx context.Context, runID int64, source model.Source, fields map[string]string) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return apperr.Internal("marshal mapping", err)
	}
	_, err = e.db.ExecContext(ctx, `
		INSERT INTO mappings (run_id, source, fields)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, source) DO UPDATE SET fields = EXCLUDED.fields
	`, runID, string(source), data)
	if err != nil {
		return apperr.Internal("save mapping", err)
	}
	return nil
}

// GetMapping returns the saved mapping for (runID, source), or an empty map
// if none was ever saved.
func (e *Engine) GetMapping(ctx context.Context, runID int64, source model.Source) (map[string]string, error) {
	var data []byte
	err := e.db.QueryRowContext(ctx, `SELECT fields FROM mappings WHERE run_id = $1 AND source = $2`,
		runID, string(source)).Scan(&data)
	if err == sql.ErrNoRows {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, apperr.Internal("get mapping", err)
	}
	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, apperr.Internal("unmarshal mapping", err)
	}
	return fields, nil
}

// fetchRaw loads every raw row for (runID, source), ordered by rownum.
func (e *Engine) fetchRaw(ctx context.Context, runID int64, source model.Source) ([]map[string]string, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT data FROM %s WHERE run_id = $1 ORDER BY rownum ASC`, rawTable(source)), runID)
	if err != nil {
		return nil, apperr.Internal("fetch raw rows", err)
	}
	defer rows.Close()

	var out []map[string]string
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, apperr.Internal("scan raw row", err)
		}
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, apperr.Internal("unmarshal raw row", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// HeadersSample returns the union of keys over the first n raw rows plus
// the rows themselves, for the UI mapper (§4.3 headers_sample).
func (e *Engine) HeadersSample(ctx context.Context, runID int64, source model.Source, n int) ([]string, []map[string]string, error) {
	rows, err := e.fetchRaw(ctx, runID, source)
	if err != nil {
		return nil, nil, err
	}
	if n > len(rows) {
		n = len(rows)
	}
	sample := rows[:n]

	seen := map[string]bool{}
	var headers []string
	for _, r := range sample {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				headers = append(headers, k)
			}
		}
	}
	return headers, sample, nil
}

// lowerKeys returns row with every key lowercased and stripped of spaces and
// tabs (mirrors _canonize_row's case-insensitive lookup). When two keys
// collide, which value is kept follows map iteration order and is not defined.
func lowerKeys(row map[string]string) map[string]string {
	out := make(map[string]string, len(row))
	for k, v := range row {
		out[normalizeHeader(k)] = v
	}
	return out
}

func normalizeHeader(h string) string {
	out := make([]byte, 0, len(h))
	for i := 0; i < len(h); i++ {
		c := h[i]
		if c >= 'A' && c <= 'Z' {
			c = c - 'A' + 'a'
		}
		if c == ' ' || c == '\t' {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

// ApplyMapping produces canonical-keyed rows from raw rows: an explicit
// mapping entry wins; otherwise the alias list is tried in order; missing
// values yield "" (§4.3 apply_mapping).
func ApplyMapping(rows []map[string]string, explicit map[string]string, alias AliasMap) []map[string]string {
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		lowered := lowerKeys(row)
		canon := map[string]string{}
		for field, alts := range alias {
			if header, ok := explicit[field]; ok {
				if v, ok := lowered[normalizeHeader(header)]; ok {
					canon[field] = v
					continue
				}
			}
			if v, ok := lowered[field]; ok {
				canon[field] = v
				continue
			}
			val := ""
			for _, a := range alts {
				if v, ok := lowered[normalizeHeader(a)]; ok {
					val = v
					break
				}
			}
			canon[field] = val
		}
		out = append(out, canon)
	}
	return out
}

// ApplyMappingForSource fetches raw rows for (runID, source) and applies
// the saved (or explicit) mapping, using the source's alias list.
func (e *Engine) ApplyMappingForSource(ctx context.Context, runID int64, source model.Source) ([]map[string]string, error) {
	raw, err := e.fetchRaw(ctx, runID, source)
	if err != nil {
		return nil, err
	}
	explicit, err := e.GetMapping(ctx, runID, source)
	if err != nil {
		return nil, err
	}
	return ApplyMapping(raw, explicit, AliasesFor(source)), nil
}

// CheckMapping returns, per source, the required canonical fields that are
// neither explicitly mapped to an extant raw header nor covered by alias
// fallback. An empty result for a source means the pipeline may proceed.
func (e *Engine) CheckMapping(ctx context.Context, runID int64) (map[string][]string, error) {
	missing := map[string][]string{}
	for _, source := range []model.Source{model.SourceMail, model.SourceCRM} {
		headers, _, err := e.HeadersSample(ctx, runID, source, 25)
		if err != nil {
			return nil, err
		}
		headerSet := map[string]bool{}
		for _, h := range headers {
			headerSet[normalizeHeader(h)] = true
		}
		explicit, err := e.GetMapping(ctx, runID, source)
		if err != nil {
			return nil, err
		}
		alias := AliasesFor(source)
		var missingFields []string
		for _, field := range RequiredFor(source) {
			if header, ok := explicit[field]; ok && headerSet[normalizeHeader(header)] {
				continue
			}
			satisfied := false
			for _, a := range append([]string{field}, alias[field]...) {
				if headerSet[normalizeHeader(a)] {
					satisfied = true
					break
				}
			}
			if !satisfied {
				missingFields = append(missingFields, field)
			}
		}
		if len(missingFields) > 0 {
			missing[string(source)] = missingFields
		}
	}
	return missing, nil
}
