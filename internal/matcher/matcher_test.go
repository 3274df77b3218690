package matcher

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mailtrace/core/internal/model"
	"github.com/mailtrace/core/internal/normalize"
)

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func mailRow(sourceID, addr1, city, state, zip, sentDate string) model.MailStagingRow {
	return model.MailStagingRow{
		SourceID: sourceID, Address1: addr1, City: city, State: state, Zip: zip,
		FullAddress: normalize.BuildFullAddress(addr1, "", city, state, zip),
		SentDate:    date(sentDate),
	}
}

func crmRow(sourceID, addr1, city, state, zip, jobDate, value string) model.CRMStagingRow {
	return model.CRMStagingRow{
		SourceID: sourceID, Address1: addr1, City: city, State: state, Zip: zip,
		FullAddress: normalize.BuildFullAddress(addr1, "", city, state, zip),
		JobDate:     date(jobDate),
		JobValue:    decimal.RequireFromString(value),
	}
}

func TestE1BasicMatchWithStreetTypeVariation(t *testing.T) {
	mail := []model.MailStagingRow{mailRow("M1", "123 MAIN ST", "Austin", "TX", "78701", "2024-03-01")}
	crm := []model.CRMStagingRow{crmRow("J1", "123 Main Street", "Austin", "TX", "78701-1234", "2024-04-15", "500")}

	results := Run(mail, crm, NewConfig())
	if len(results) != 1 || results[0].Excluded {
		t.Fatalf("expected one match, got %+v", results)
	}
	m := results[0].Match
	if len(m.MailIDs) != 1 || m.MailIDs[0] != "M1" {
		t.Fatalf("expected mail_ids [M1], got %v", m.MailIDs)
	}
	if len(m.MatchedMailDates) != 1 || !m.MatchedMailDates[0].Equal(*date("2024-03-01")) {
		t.Fatalf("unexpected matched_mail_dates: %v", m.MatchedMailDates)
	}
	if m.Zip5 != "78701" {
		t.Fatalf("expected zip5 78701, got %q", m.Zip5)
	}
	if m.ConfidencePercent != 100 {
		t.Fatalf("expected confidence 100, got %d", m.ConfidencePercent)
	}
	if m.MatchNotes != "perfect match" {
		t.Fatalf("expected perfect match, got %q", m.MatchNotes)
	}
}

func TestE2DateWindowExcludesFutureMail(t *testing.T) {
	mail := []model.MailStagingRow{mailRow("M2", "10 Elm Ave", "Boston", "MA", "02139", "2024-05-10")}
	crm := []model.CRMStagingRow{crmRow("J2", "10 Elm Ave", "Boston", "MA", "02139", "2024-05-01", "100")}

	results := Run(mail, crm, NewConfig())
	if len(results) != 1 || !results[0].Excluded {
		t.Fatalf("expected exclusion, got %+v", results)
	}
	if results[0].Reason != model.ExclusionNoDateWindow {
		t.Fatalf("expected no_date_window_candidates, got %q", results[0].Reason)
	}
}

func TestE4DirectionalAndUnitNotes(t *testing.T) {
	mail := []model.MailStagingRow{{
		Address1: "100 N MAIN ST APT 4", Address2: "", City: "Austin", State: "TX", Zip: "78701",
		FullAddress: normalize.BuildFullAddress("100 N MAIN ST APT 4", "", "Austin", "TX", "78701"),
		SentDate:    date("2024-01-01"),
	}}
	crm := []model.CRMStagingRow{{
		Address1: "100 Main St", Address2: "", City: "Austin", State: "TX", Zip: "78701",
		FullAddress: normalize.BuildFullAddress("100 Main St", "", "Austin", "TX", "78701"),
		JobDate:     date("2024-02-01"),
		JobValue:    decimal.NewFromInt(0),
	}}

	results := Run(mail, crm, NewConfig())
	if len(results) != 1 || results[0].Excluded {
		t.Fatalf("expected a match, got %+v", results)
	}
	notes := results[0].Match.MatchNotes
	if !contains(notes, "north vs none (direction)") {
		t.Errorf("expected direction note in %q", notes)
	}
	if !contains(notes, "#4 vs none (unit)") {
		t.Errorf("expected unit note in %q", notes)
	}
}

func TestE6TieBreakByEarliestMail(t *testing.T) {
	mail := []model.MailStagingRow{
		mailRow("M1", "50 Oak Rd", "Austin", "TX", "78702", "2024-02-01"),
		mailRow("M2", "50 Oak Rd", "Austin", "TX", "78702", "2024-01-10"),
	}
	crm := []model.CRMStagingRow{crmRow("J1", "50 Oak Rd", "Austin", "TX", "78702", "2024-03-01", "250")}

	results := Run(mail, crm, NewConfig())
	if len(results) != 1 || results[0].Excluded {
		t.Fatalf("expected a match, got %+v", results)
	}
	m := results[0].Match
	if len(m.MatchedMailDates) != 2 {
		t.Fatalf("expected both mail dates in provenance, got %v", m.MatchedMailDates)
	}
	if !m.MatchedMailDates[0].Equal(*date("2024-01-10")) {
		t.Fatalf("expected dates sorted ascending, got %v", m.MatchedMailDates)
	}
	if m.MailFullAddress != normalize.BuildFullAddress("50 Oak Rd", "", "Austin", "TX", "78702") {
		t.Fatalf("unexpected winner address: %q", m.MailFullAddress)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
