// Package model holds the persisted and wire-level shapes for MailTrace's
// core: runs, mappings, raw/normalized staging, and matches.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source distinguishes the two ledgers a run ingests.
type Source string

const (
	SourceMail Source = "mail"
	SourceCRM  Source = "crm"
)

// Run status values; see StatusSteps for the fixed pct anchor and label per
// status.
const (
	StatusQueued           = "queued"
	StatusStarting         = "starting"
	StatusNormalizingMail  = "normalizing_mail"
	StatusMailInserting    = "mail_inserting"
	StatusMailReady        = "mail_ready"
	StatusNormalizingCRM   = "normalizing_crm"
	StatusCRMInserting     = "crm_inserting"
	StatusCRMReady         = "crm_ready"
	StatusMatching         = "matching"
	StatusAggregating      = "aggregating"
	StatusDone             = "done"
	StatusFailed           = "failed"
)

// StatusStep pairs a status with its pct anchor and UI label, per spec §4.8.
type StatusStep struct {
	Status  string
	Pct     int
	Message string
}

// StatusSteps is the ordered table of status anchors; runstate's transition
// reads the pct and label for a status from it. The order is not enforced:
// transition writes whichever status it is given. "failed" has no entry;
// runstate's Fail sets its pct and message directly.
var StatusSteps = []StatusStep{
	{StatusQueued, 0, "Queued"},
	{StatusStarting, 5, "Starting run"},
	{StatusNormalizingMail, 15, "Normalizing Mail (reading RAW)"},
	{StatusMailInserting, 35, "Normalizing Mail (writing to staging)"},
	{StatusMailReady, 55, "Mail normalized"},
	{StatusNormalizingCRM, 60, "Normalizing CRM (reading RAW)"},
	{StatusCRMInserting, 78, "Normalizing CRM (writing to staging)"},
	{StatusCRMReady, 85, "CRM normalized"},
	{StatusMatching, 90, "Linking Mail ↔ CRM"},
	{StatusAggregating, 97, "Aggregating results"},
	{StatusDone, 100, "Run complete"},
}

// Run is the per-user pipeline lifecycle record (§3, §4.8).
type Run struct {
	ID         int64      `json:"id"`
	UserID     string     `json:"userId"`
	Status     string     `json:"status"`
	Step       string     `json:"step"`
	Pct        int        `json:"pct"`
	Message    string     `json:"message"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	MailCount  int        `json:"mailCount"`
	CRMCount   int        `json:"crmCount"`
	MailReady  bool       `json:"mailReady"`
	CRMReady   bool       `json:"crmReady"`
	Artifacts  []byte     `json:"-"` // raw JSONB result cache, see internal/aggregate
}

// IsTerminal reports whether a run will never transition again.
func (r *Run) IsTerminal() bool {
	return r.Status == StatusDone || r.Status == StatusFailed
}

// RawRow is one verbatim landed row: header -> value, 1-based within its
// (run_id, source).
type RawRow struct {
	RunID  int64             `json:"runId"`
	UserID string            `json:"userId"`
	RowNum int               `json:"rownum"`
	Data   map[string]string `json:"data"`
}

// Mapping is the user-declared canonical-field -> raw-header assignment for
// one (run_id, source).
type Mapping struct {
	RunID  int64             `json:"runId"`
	Source Source            `json:"source"`
	Fields map[string]string `json:"fields"` // canonical field -> raw header name
}

// MailStagingRow is a normalized, per-user-deduplicated mail contact (§3).
type MailStagingRow struct {
	RunID        int64      `json:"runId"`
	LineNo       int        `json:"lineNo"`
	UserID       string     `json:"userId"`
	MailKey      string     `json:"mailKey"`
	SourceID     string     `json:"sourceId,omitempty"`
	Address1     string     `json:"address1"`
	Address2     string     `json:"address2,omitempty"`
	City         string     `json:"city"`
	State        string     `json:"state"`
	Zip          string     `json:"zip"`
	FullAddress  string     `json:"fullAddress"`
	SentDate     *time.Time `json:"sentDate"`
}

// CRMStagingRow is a normalized, per-user-deduplicated CRM job (§3).
type CRMStagingRow struct {
	RunID       int64           `json:"runId"`
	LineNo      int             `json:"lineNo"`
	UserID      string          `json:"userId"`
	JobIndex    string          `json:"jobIndex"`
	SourceID    string          `json:"sourceId,omitempty"`
	Address1    string          `json:"address1"`
	Address2    string          `json:"address2,omitempty"`
	City        string          `json:"city"`
	State       string          `json:"state"`
	Zip         string          `json:"zip"`
	FullAddress string          `json:"fullAddress"`
	JobDate     *time.Time      `json:"jobDate"`
	JobValue    decimal.Decimal `json:"jobValue"`
}

// Match is the persisted, per-job winning-mail attribution (§3, §4.5).
type Match struct {
	UserID            string          `json:"userId"`
	RunID             int64           `json:"runId"`
	JobIndex          string          `json:"jobIndex"`
	CRMLineNo         int             `json:"crmLineNo"`
	CRMJobDate        *time.Time      `json:"crmJobDate"`
	JobValue          decimal.Decimal `json:"jobValue"`
	CRMCity           string          `json:"crmCity"`
	CRMState          string          `json:"crmState"`
	CRMZip            string          `json:"crmZip"`
	CRMFullAddress    string          `json:"crmFullAddress"`
	MailFullAddress   string          `json:"mailFullAddress"`
	MailIDs           []string        `json:"mailIds"`
	MatchedMailDates  []time.Time     `json:"matchedMailDates"`
	ConfidencePercent int             `json:"confidencePercent"`
	MatchNotes        string          `json:"matchNotes"`
	Zip5              string          `json:"zip5"`
	State              string          `json:"state"`
}

// ExclusionReason records why a CRM row produced no match. It is carried on
// matcher.Result only; RunPipeline neither persists nor reports it.
type ExclusionReason string

const (
	ExclusionNoBlockCandidates ExclusionReason = "no_block_candidates"
	ExclusionNoDateWindow      ExclusionReason = "no_date_window_candidates"
	ExclusionBelowThreshold    ExclusionReason = "below_threshold"
)

// JWTClaims is the shape extracted from a caller's bearer token; UserID is
// the opaque per-user identity string MailTrace scopes all data by.
type JWTClaims struct {
	UserID string `json:"userId"`
}

// Request/response DTOs for the HTTP binding (§6).

type CreateRunResponse struct {
	RunID int64 `json:"runId"`
}

type UploadRawResponse struct {
	State        string              `json:"state"`
	RawCount     int                 `json:"rawCount"`
	SampleHeaders []string           `json:"sampleHeaders"`
	SampleRows   []map[string]string `json:"sampleRows"`
}

type SaveMappingRequest struct {
	Fields map[string]string `json:"fields" v:"required"`
}

type GetHeadersResponse struct {
	Headers    []string            `json:"headers"`
	SampleRows []map[string]string `json:"sampleRows"`
}

type StartPipelineResponse struct {
	OK      bool                `json:"ok"`
	Missing map[string][]string `json:"missing,omitempty"`
}

type StatusResponse struct {
	RunID   int64  `json:"runId"`
	Status  string `json:"status"`
	Pct     int    `json:"pct"`
	Step    string `json:"step"`
	Message string `json:"message"`
}

type ResultResponse struct {
	RunID     int64        `json:"runId"`
	KPIs      KPIs         `json:"kpis"`
	Graph     Graph        `json:"graph"`
	TopCities []CityCount  `json:"topCities"`
	TopZips   []ZipCount   `json:"topZips"`
}

// KPIs is the headline metric block (§4.7).
type KPIs struct {
	TotalMail            int             `json:"totalMail"`
	UniqueMailAddresses  int             `json:"uniqueMailAddresses"`
	TotalJobs            int             `json:"totalJobs"`
	Matches              int             `json:"matches"`
	MatchRate            float64         `json:"matchRate"`
	MatchRevenue         decimal.Decimal `json:"matchRevenue"`
	RevenuePerMailer     decimal.Decimal `json:"revenuePerMailer"`
	AvgTicketPerMatch    decimal.Decimal `json:"avgTicketPerMatch"`
	MedianDaysToConvert  float64         `json:"medianDaysToConvert"`
}

// Graph is the monthly time series block, with an optional YoY overlay.
type Graph struct {
	Months  []string `json:"months"`
	Mailers []int    `json:"mailers"`
	Jobs    []int    `json:"jobs"`
	Matches []int    `json:"matches"`
	YoY     *YoY     `json:"yoy,omitempty"`
}

// YoY holds the matches series for January-December of the latest year in
// Graph.Months, aligned with the same months of the year before. Mailers and
// jobs have no YoY overlay.
type YoY struct {
	Months       []string `json:"months"`
	CurrentYear  []int    `json:"currentYear"`
	PreviousYear []int    `json:"previousYear"`
}

type CityCount struct {
	City      string  `json:"city"`
	Matches   int     `json:"matches"`
	MatchRate float64 `json:"matchRate"`
}

type ZipCount struct {
	Zip5    string `json:"zip5"`
	Matches int    `json:"matches"`
}

type RunSummary struct {
	ID        int64     `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	Status    string    `json:"status"`
	Summary   string    `json:"summary"`
}

type ListRunsResponse struct {
	Items      []RunSummary `json:"items"`
	NextCursor string       `json:"nextCursor,omitempty"`
}
