package aggregate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mailtrace/core/internal/model"
)

func d(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestComputeKPIsMatchRateAndRevenue(t *testing.T) {
	mail := []model.MailStagingRow{
		{FullAddress: "100 MAIN ST AUSTIN TX 78701", City: "Austin", SentDate: d("2024-01-01")},
		{FullAddress: "200 OAK AVE AUSTIN TX 78701", City: "Austin", SentDate: d("2024-01-05")},
	}
	crm := []model.CRMStagingRow{
		{JobIndex: "j1", JobDate: d("2024-02-01")},
		{JobIndex: "j2", JobDate: d("2024-02-05")},
	}
	matches := []model.Match{
		{JobIndex: "j1", JobValue: decimal.NewFromInt(500), CRMJobDate: d("2024-02-01"), MatchedMailDates: []time.Time{*d("2024-01-01")}, CRMCity: "Austin", Zip5: "78701"},
	}

	result := Compute(1, mail, crm, matches)
	if result.KPIs.TotalMail != 2 {
		t.Fatalf("expected total mail 2, got %d", result.KPIs.TotalMail)
	}
	if result.KPIs.TotalJobs != 2 {
		t.Fatalf("expected total jobs 2, got %d", result.KPIs.TotalJobs)
	}
	if result.KPIs.Matches != 1 {
		t.Fatalf("expected 1 match, got %d", result.KPIs.Matches)
	}
	if result.KPIs.MatchRate != 50 {
		t.Fatalf("expected match rate 50, got %v", result.KPIs.MatchRate)
	}
	if !result.KPIs.MatchRevenue.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected revenue 500, got %v", result.KPIs.MatchRevenue)
	}
	if result.KPIs.MedianDaysToConvert != 31 {
		t.Fatalf("expected median days 31, got %v", result.KPIs.MedianDaysToConvert)
	}
}

func TestComputeKPIsZeroTotalsDoNotDivideByZero(t *testing.T) {
	result := Compute(1, nil, nil, nil)
	if result.KPIs.MatchRate != 0 {
		t.Fatalf("expected 0 match rate on empty input, got %v", result.KPIs.MatchRate)
	}
	if !result.KPIs.RevenuePerMailer.IsZero() || !result.KPIs.AvgTicketPerMatch.IsZero() {
		t.Fatal("expected zero-valued money fields on empty input")
	}
}

func TestComputeGraphMonthsAreSortedUnion(t *testing.T) {
	mail := []model.MailStagingRow{{FullAddress: "a", SentDate: d("2024-03-01")}}
	crm := []model.CRMStagingRow{{JobIndex: "j1", JobDate: d("2024-01-15")}}
	result := Compute(1, mail, crm, nil)
	if len(result.Graph.Months) != 2 || result.Graph.Months[0] != "2024-01" || result.Graph.Months[1] != "2024-03" {
		t.Fatalf("unexpected months: %v", result.Graph.Months)
	}
}

func TestComputeTopCitiesAndZips(t *testing.T) {
	mail := []model.MailStagingRow{
		{FullAddress: "a", City: "Austin"},
		{FullAddress: "b", City: "Austin"},
	}
	matches := []model.Match{
		{CRMCity: "Austin", Zip5: "78701"},
		{CRMCity: "Austin", Zip5: "78701"},
	}
	result := Compute(1, mail, nil, matches)
	if len(result.TopCities) != 1 || result.TopCities[0].City != "austin" || result.TopCities[0].Matches != 2 {
		t.Fatalf("unexpected top cities: %+v", result.TopCities)
	}
	if result.TopCities[0].MatchRate != 100 {
		t.Fatalf("expected 100%% match rate for austin, got %v", result.TopCities[0].MatchRate)
	}
	if len(result.TopZips) != 1 || result.TopZips[0].Zip5 != "78701" || result.TopZips[0].Matches != 2 {
		t.Fatalf("unexpected top zips: %+v", result.TopZips)
	}
}
