// Package aggregate implements C7: KPIs, monthly series with a YoY
// overlay, and top cities/zips, computed fresh from staging + matches for
// a run (§4.7). Grounded on kpi_dao.py's count_distinct /
// series_count_distinct_by_month / top_from_deduped_matches shapes.
package aggregate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/mailtrace/core/internal/apperr"
	"github.com/mailtrace/core/internal/model"
	"github.com/mailtrace/core/internal/staging"
)

// Compute is the pure aggregation function: no IO, deterministic given its
// inputs, so it is the thing under test for §4.7's formulas.
func Compute(runID int64, mail []model.MailStagingRow, crm []model.CRMStagingRow, matches []model.Match) model.ResultResponse {
	kpis := computeKPIs(mail, crm, matches)
	graph := computeGraph(mail, crm, matches)
	topCities := computeTopCities(mail, matches)
	topZips := computeTopZips(matches)

	return model.ResultResponse{
		RunID:     runID,
		KPIs:      kpis,
		Graph:     graph,
		TopCities: topCities,
		TopZips:   topZips,
	}
}

func computeKPIs(mail []model.MailStagingRow, crm []model.CRMStagingRow, matches []model.Match) model.KPIs {
	mailAddrDate := map[string]bool{}
	mailAddrs := map[string]bool{}
	for _, m := range mail {
		mailAddrs[m.FullAddress] = true
		key := m.FullAddress
		if m.SentDate != nil {
			key += "|" + m.SentDate.Format("2006-01-02")
		}
		mailAddrDate[key] = true
	}
	totalMail := len(mailAddrDate)
	uniqueMailAddresses := len(mailAddrs)

	jobIndexes := map[string]bool{}
	for _, c := range crm {
		jobIndexes[c.JobIndex] = true
	}
	totalJobs := len(jobIndexes)

	matchCount := len(matches)
	matchRevenue := decimal.Zero
	for _, m := range matches {
		matchRevenue = matchRevenue.Add(m.JobValue)
	}

	matchRate := 0.0
	if totalJobs > 0 {
		matchRate = round2(float64(matchCount) / float64(totalJobs) * 100)
	}

	revenuePerMailer := decimal.Zero
	if totalMail > 0 {
		revenuePerMailer = matchRevenue.Div(decimal.NewFromInt(int64(totalMail))).Round(2)
	}
	avgTicket := decimal.Zero
	if matchCount > 0 {
		avgTicket = matchRevenue.Div(decimal.NewFromInt(int64(matchCount))).Round(2)
	}

	var deltas []float64
	for _, m := range matches {
		if m.CRMJobDate == nil || len(m.MatchedMailDates) == 0 {
			continue
		}
		latest := m.MatchedMailDates[len(m.MatchedMailDates)-1]
		delta := m.CRMJobDate.Sub(latest).Hours() / 24
		if delta >= 0 {
			deltas = append(deltas, delta)
		}
	}
	medianDays := median(deltas)

	return model.KPIs{
		TotalMail:           totalMail,
		UniqueMailAddresses: uniqueMailAddresses,
		TotalJobs:           totalJobs,
		Matches:             matchCount,
		MatchRate:           matchRate,
		MatchRevenue:        matchRevenue,
		RevenuePerMailer:    revenuePerMailer,
		AvgTicketPerMatch:   avgTicket,
		MedianDaysToConvert: medianDays,
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func monthKey(t time.Time) string { return t.Format("2006-01") }

func computeGraph(mail []model.MailStagingRow, crm []model.CRMStagingRow, matches []model.Match) model.Graph {
	mailerByMonth := map[string]int{}
	jobsByMonth := map[string]int{}
	matchByMonth := map[string]int{}
	monthSet := map[string]bool{}

	for _, m := range mail {
		if m.SentDate == nil {
			continue
		}
		k := monthKey(*m.SentDate)
		mailerByMonth[k]++
		monthSet[k] = true
	}
	for _, c := range crm {
		if c.JobDate == nil {
			continue
		}
		k := monthKey(*c.JobDate)
		jobsByMonth[k]++
		monthSet[k] = true
	}
	for _, m := range matches {
		if m.CRMJobDate == nil {
			continue
		}
		k := monthKey(*m.CRMJobDate)
		matchByMonth[k]++
		monthSet[k] = true
	}

	months := make([]string, 0, len(monthSet))
	for k := range monthSet {
		months = append(months, k)
	}
	sort.Strings(months)

	mailers := make([]int, len(months))
	jobs := make([]int, len(months))
	matchArr := make([]int, len(months))
	for i, m := range months {
		mailers[i] = mailerByMonth[m]
		jobs[i] = jobsByMonth[m]
		matchArr[i] = matchByMonth[m]
	}

	graph := model.Graph{Months: months, Mailers: mailers, Jobs: jobs, Matches: matchArr}
	graph.YoY = computeYoY(months, matchByMonth)
	return graph
}

// computeYoY builds 12-month-aligned arrays for the latest year present in
// months, and the same 12 months one year earlier.
func computeYoY(months []string, byMonth map[string]int) *model.YoY {
	if len(months) == 0 {
		return nil
	}
	latestYear, _ := strconv.Atoi(months[len(months)-1][:4])
	y := &model.YoY{}
	for i := 1; i <= 12; i++ {
		monthLabel := fmt.Sprintf("%04d-%02d", latestYear, i)
		prevLabel := fmt.Sprintf("%04d-%02d", latestYear-1, i)
		y.Months = append(y.Months, monthLabel)
		y.CurrentYear = append(y.CurrentYear, byMonth[monthLabel])
		y.PreviousYear = append(y.PreviousYear, byMonth[prevLabel])
	}
	return y
}

func computeTopCities(mail []model.MailStagingRow, matches []model.Match) []model.CityCount {
	mailByCity := map[string]map[string]bool{}
	for _, m := range mail {
		city := strings.ToLower(strings.TrimSpace(m.City))
		if city == "" {
			continue
		}
		if mailByCity[city] == nil {
			mailByCity[city] = map[string]bool{}
		}
		mailByCity[city][m.FullAddress] = true
	}

	matchesByCity := map[string]int{}
	for _, m := range matches {
		city := strings.ToLower(strings.TrimSpace(m.CRMCity))
		if city == "" {
			continue
		}
		matchesByCity[city]++
	}

	out := make([]model.CityCount, 0, len(matchesByCity))
	for city, count := range matchesByCity {
		rate := 0.0
		if uniq := len(mailByCity[city]); uniq > 0 {
			rate = round2(float64(count) / float64(uniq) * 100)
		}
		out = append(out, model.CityCount{City: city, Matches: count, MatchRate: rate})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Matches != out[j].Matches {
			return out[i].Matches > out[j].Matches
		}
		return out[i].City < out[j].City
	})
	return out
}

func computeTopZips(matches []model.Match) []model.ZipCount {
	byZip := map[string]int{}
	for _, m := range matches {
		zip := m.Zip5
		if zip == "" {
			continue
		}
		byZip[zip]++
	}
	out := make([]model.ZipCount, 0, len(byZip))
	for zip, count := range byZip {
		out = append(out, model.ZipCount{Zip5: zip, Matches: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Matches != out[j].Matches {
			return out[i].Matches > out[j].Matches
		}
		return out[i].Zip5 < out[j].Zip5
	})
	return out
}

// Aggregator loads staging + matches for a run and computes the result,
// optionally caching it into runs.artifacts.
type Aggregator struct {
	db      *sql.DB
	staging *staging.Store
}

func NewAggregator(db *sql.DB) *Aggregator {
	return &Aggregator{db: db, staging: staging.NewStore(db)}
}

func (a *Aggregator) loadMatches(ctx context.Context, runID int64) ([]model.Match, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT user_id, run_id, job_index, crm_line_no, crm_job_date, job_value, crm_city, crm_state, crm_zip,
			crm_full_address, mail_full_address, mail_ids, matched_mail_dates, confidence_percent, match_notes, zip5, state
		FROM matches WHERE run_id = $1`, runID)
	if err != nil {
		return nil, apperr.Internal("load matches", err)
	}
	defer rows.Close()
	return scanMatches(rows)
}

func scanMatches(rows *sql.Rows) ([]model.Match, error) {
	var out []model.Match
	for rows.Next() {
		var m model.Match
		var jobValue string
		var mailIDs, dateStrs []string
		if err := rows.Scan(&m.UserID, &m.RunID, &m.JobIndex, &m.CRMLineNo, &m.CRMJobDate, &jobValue,
			&m.CRMCity, &m.CRMState, &m.CRMZip, &m.CRMFullAddress, &m.MailFullAddress,
			pq.Array(&mailIDs), pq.Array(&dateStrs), &m.ConfidencePercent, &m.MatchNotes, &m.Zip5, &m.State); err != nil {
			return nil, apperr.Internal("scan match", err)
		}
		m.JobValue, _ = decimal.NewFromString(jobValue)
		m.MailIDs = mailIDs
		for _, ds := range dateStrs {
			if t, err := time.Parse("2006-01-02", ds); err == nil {
				m.MatchedMailDates = append(m.MatchedMailDates, t)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ComputeAndCache computes the result for runID and persists it into
// runs.artifacts; result() prefers the cache unless refresh is requested
// (§10, supplemented feature).
func (a *Aggregator) ComputeAndCache(ctx context.Context, runID int64) (model.ResultResponse, error) {
	result, err := a.Compute(ctx, runID)
	if err != nil {
		return result, err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return result, apperr.Internal("marshal result artifact", err)
	}
	if _, err := a.db.ExecContext(ctx, `UPDATE runs SET artifacts = $1 WHERE id = $2`, data, runID); err != nil {
		return result, apperr.Internal("cache result artifact", err)
	}
	return result, nil
}

// ComputeAllTime aggregates across every run a user has ever started: since
// staging tables are unique per (user_id, identity_key), the per-user rows
// are already the deduped latest-run-wins view; only matches need a
// user-scoped fetch instead of a run-scoped one (§10 supplemented feature).
func (a *Aggregator) ComputeAllTime(ctx context.Context, userID string) (model.ResultResponse, error) {
	mail, err := a.staging.FetchMailForUser(ctx, userID)
	if err != nil {
		return model.ResultResponse{}, err
	}
	crm, err := a.staging.FetchCRMForUser(ctx, userID)
	if err != nil {
		return model.ResultResponse{}, err
	}
	matches, err := a.loadMatchesForUser(ctx, userID)
	if err != nil {
		return model.ResultResponse{}, err
	}
	return Compute(0, mail, crm, matches), nil
}

func (a *Aggregator) loadMatchesForUser(ctx context.Context, userID string) ([]model.Match, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT user_id, run_id, job_index, crm_line_no, crm_job_date, job_value, crm_city, crm_state, crm_zip,
			crm_full_address, mail_full_address, mail_ids, matched_mail_dates, confidence_percent, match_notes, zip5, state
		FROM matches WHERE user_id = $1`, userID)
	if err != nil {
		return nil, apperr.Internal("load matches for user", err)
	}
	defer rows.Close()
	return scanMatches(rows)
}

// Compute always recomputes fresh from staging + matches (§4.7 requires
// this path to exist regardless of caching).
func (a *Aggregator) Compute(ctx context.Context, runID int64) (model.ResultResponse, error) {
	mail, err := a.staging.FetchMailForRun(ctx, runID)
	if err != nil {
		return model.ResultResponse{}, err
	}
	crm, err := a.staging.FetchCRMForRun(ctx, runID)
	if err != nil {
		return model.ResultResponse{}, err
	}
	matches, err := a.loadMatches(ctx, runID)
	if err != nil {
		return model.ResultResponse{}, err
	}
	return Compute(runID, mail, crm, matches), nil
}
