// Package matcher implements C5: zip-bucket + date-window filtering, plus
// RapidFuzz-style token-set scoring with deterministic bonuses and
// tie-breaks, to link each CRM job to at most one winning mail row while
// retaining full in-window provenance.
//
// Grounded on run_matching / _bonus_adjust / _notes_for in
// server/app/services/matching.py; the fuzzy scorer itself is
// internal/tokenratio.
package matcher

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mailtrace/core/internal/model"
	"github.com/mailtrace/core/internal/normalize"
	"github.com/mailtrace/core/internal/tokenratio"
)

// Config tunes the matcher; all fields default to the spec's stated
// defaults when zero-valued via NewConfig.
type Config struct {
	FastFilters   bool
	MatchMinScore int
	TopK          int
}

func NewConfig() Config {
	return Config{FastFilters: true, MatchMinScore: 0, TopK: 1}
}

type preppedMail struct {
	row     model.MailStagingRow
	blk     string
	addrStr string
	zip5    string
	cityL   string
	stateL  string
	date    *time.Time
}

type preppedCRM struct {
	row     model.CRMStagingRow
	blk     string
	addrStr string
	zip5    string
	cityL   string
	stateL  string
	date    *time.Time
}

func prepMail(rows []model.MailStagingRow) []preppedMail {
	out := make([]preppedMail, len(rows))
	for i, r := range rows {
		out[i] = preppedMail{
			row:     r,
			blk:     normalize.BlockKey(normalize.NormalizeAddress1(r.Address1)),
			addrStr: normalize.NormalizeAddress1(r.Address1),
			zip5:    normalize.Zip5(r.Zip),
			cityL:   strings.ToLower(strings.TrimSpace(r.City)),
			stateL:  strings.ToLower(strings.TrimSpace(r.State)),
			date:    r.SentDate,
		}
	}
	return out
}

func prepCRM(rows []model.CRMStagingRow) []preppedCRM {
	out := make([]preppedCRM, len(rows))
	for i, r := range rows {
		out[i] = preppedCRM{
			row:     r,
			blk:     normalize.BlockKey(normalize.NormalizeAddress1(r.Address1)),
			addrStr: normalize.NormalizeAddress1(r.Address1),
			zip5:    normalize.Zip5(r.Zip),
			cityL:   strings.ToLower(strings.TrimSpace(r.City)),
			stateL:  strings.ToLower(strings.TrimSpace(r.State)),
			date:    r.JobDate,
		}
	}
	return out
}

func bonusAdjust(base int, m preppedMail, c preppedCRM) int {
	score := base
	if m.zip5 != "" && c.zip5 != "" && m.zip5 == c.zip5 {
		score = min100(score + 5)
	}
	if m.cityL != "" && c.cityL != "" && m.cityL == c.cityL {
		score = min100(score + 2)
	}
	if m.stateL != "" && c.stateL != "" && m.stateL == c.stateL {
		score = min100(score + 2)
	}
	return score
}

func min100(v int) int {
	if v > 100 {
		return 100
	}
	return v
}

func notesFor(m preppedMail, c preppedCRM) string {
	ta := normalize.Tokens(c.row.Address1)
	tb := normalize.Tokens(m.row.Address1)

	var notes []string
	stA, stB := normalize.StreetTypeOf(ta), normalize.StreetTypeOf(tb)
	if stA != stB && (stA != "" || stB != "") {
		notes = append(notes, displayOrNone(stB)+" vs "+displayOrNone(stA)+" (street type)")
	}
	dirA, dirB := normalize.DirectionalIn(ta), normalize.DirectionalIn(tb)
	if dirA != dirB && (dirA != "" || dirB != "") {
		notes = append(notes, displayOrNone(dirB)+" vs "+displayOrNone(dirA)+" (direction)")
	}

	// A unit comes from address2, else from a "#"-prefixed token or the token
	// after a unit word in address1 ("apt 4" -> "#4").
	unitOf := func(addr2 string, toks []string) string {
		if u := strings.TrimSpace(addr2); u != "" {
			return u
		}
		for i, t := range toks {
			if len(t) > 1 && t[0] == '#' {
				return t
			}
			if normalize.UnitWords[t] && i+1 < len(toks) && !normalize.UnitWords[toks[i+1]] {
				return "#" + toks[i+1]
			}
		}
		return ""
	}
	unitA := unitOf(c.row.Address2, ta)
	unitB := unitOf(m.row.Address2, tb)
	if (unitA != "") != (unitB != "") {
		notes = append(notes, displayOrNone(unitB)+" vs "+displayOrNone(unitA)+" (unit)")
	} else if unitA != "" && unitB != "" && !strings.EqualFold(unitA, unitB) {
		notes = append(notes, unitB+" vs "+unitA+" (unit)")
	}

	if len(notes) == 0 {
		return "perfect match"
	}
	return strings.Join(notes, ";")
}

func displayOrNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// dateOrInfinitelyLate returns t, or a sentinel far in the future when t is
// nil, for the tie-break comparator (§4.5 step 4).
func dateOrInfinitelyLate(t *time.Time) time.Time {
	if t == nil {
		return time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	}
	return *t
}

// Result is one CRM row's matching outcome: either a winning match or an
// exclusion reason.
type Result struct {
	Match     *model.Match
	Excluded  bool
	Reason    model.ExclusionReason
}

// Run executes the matcher over normalized staging for one run (§4.5). It
// is pure and deterministic given fixed inputs and config.
func Run(mailRows []model.MailStagingRow, crmRows []model.CRMStagingRow, cfg Config) []Result {
	mail := prepMail(mailRows)
	crm := prepCRM(crmRows)

	byZip := map[string][]preppedMail{}
	for _, m := range mail {
		byZip[m.zip5] = append(byZip[m.zip5], m)
	}

	results := make([]Result, len(crm))
	for i, c := range crm {
		results[i] = matchOne(c, mail, byZip, cfg)
	}
	return results
}

func matchOne(c preppedCRM, allMail []preppedMail, byZip map[string][]preppedMail, cfg Config) Result {
	// 1a. zip bucket, fallback to all mail.
	candidates := allMail
	if c.zip5 != "" {
		if bucket, ok := byZip[c.zip5]; ok && len(bucket) > 0 {
			candidates = bucket
		}
	}

	// 1b. date-window filter: mail._date IS NULL OR mail._date <= crm._date.
	// A NULL crm._date makes the comparison unknown for every dated mail row,
	// so only undated mail survives (SQL three-valued-logic semantics).
	cDate := c.date
	windowed := make([]preppedMail, 0, len(candidates))
	for _, m := range candidates {
		if m.date == nil {
			windowed = append(windowed, m)
			continue
		}
		if cDate != nil && !m.date.After(*cDate) {
			windowed = append(windowed, m)
		}
	}
	if len(windowed) == 0 {
		return Result{Excluded: true, Reason: model.ExclusionNoDateWindow}
	}

	// 1c. fast filters, fallback to pre-filter set if they zero it out.
	filtered := windowed
	if cfg.FastFilters {
		tight := make([]preppedMail, 0, len(windowed))
		for _, m := range windowed {
			if m.zip5 != "" && c.zip5 != "" && m.zip5 != c.zip5 {
				continue
			}
			if m.cityL != "" && c.cityL != "" && m.stateL != "" && c.stateL != "" &&
				m.cityL != c.cityL && m.stateL != c.stateL {
				continue
			}
			tight = append(tight, m)
		}
		if len(tight) > 0 {
			filtered = tight
		}
	}

	// 2-4. score, bonus, tie-break.
	type scored struct {
		m     preppedMail
		score int
	}
	best := scored{score: -1}
	for _, m := range filtered {
		base := tokenratio.TokenSetRatio(c.addrStr, m.addrStr)
		adj := bonusAdjust(base, m, c)
		if adj > best.score {
			best = scored{m: m, score: adj}
			continue
		}
		if adj == best.score && dateOrInfinitelyLate(m.date).Before(dateOrInfinitelyLate(best.m.date)) {
			best = scored{m: m, score: adj}
		}
	}

	// 5. provenance arrays from the filtered candidate set.
	idSet := map[string]bool{}
	var mailIDs []string
	dateSet := map[string]time.Time{}
	for _, m := range filtered {
		if sid := strings.TrimSpace(m.row.SourceID); sid != "" && !idSet[sid] {
			idSet[sid] = true
			mailIDs = append(mailIDs, sid)
		}
		if m.date != nil {
			dateSet[m.date.Format("2006-01-02")] = *m.date
		}
	}
	sort.Strings(mailIDs)
	var matchedDates []time.Time
	for _, d := range dateSet {
		matchedDates = append(matchedDates, d)
	}
	sort.Slice(matchedDates, func(i, j int) bool { return matchedDates[i].Before(matchedDates[j]) })

	// 7. threshold.
	if best.score < cfg.MatchMinScore {
		return Result{Excluded: true, Reason: model.ExclusionBelowThreshold}
	}

	zip5 := c.zip5
	if zip5 == "" {
		zip5 = normalize.Zip5(c.row.Zip)
	}

	match := &model.Match{
		UserID:            c.row.UserID,
		RunID:             c.row.RunID,
		JobIndex:          c.row.JobIndex,
		CRMLineNo:         c.row.LineNo,
		CRMJobDate:        c.row.JobDate,
		JobValue:          c.row.JobValue,
		CRMCity:           c.row.City,
		CRMState:          c.row.State,
		CRMZip:            c.row.Zip,
		CRMFullAddress:    c.row.FullAddress,
		MailFullAddress:   best.m.row.FullAddress,
		MailIDs:           mailIDs,
		MatchedMailDates:  matchedDates,
		ConfidencePercent: int(math.Round(float64(best.score))),
		MatchNotes:        notesFor(best.m, c),
		Zip5:              zip5,
		State:             strings.ToUpper(c.row.State),
	}
	return Result{Match: match}
}
