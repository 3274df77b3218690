package mapping

import (
	"testing"

	"github.com/mailtrace/core/internal/model"
)

func TestApplyMappingExplicitWins(t *testing.T) {
	rows := []map[string]string{
		{"Street": "123 Main St", "date": "2024-03-01"},
	}
	explicit := map[string]string{"address1": "Street"}
	out := ApplyMapping(rows, explicit, MailAliases)
	if out[0]["address1"] != "123 Main St" {
		t.Fatalf("expected explicit mapping to win, got %q", out[0]["address1"])
	}
	if out[0]["sent_date"] != "2024-03-01" {
		t.Fatalf("expected alias fallback to fill sent_date, got %q", out[0]["sent_date"])
	}
}

func TestApplyMappingMissingYieldsEmpty(t *testing.T) {
	rows := []map[string]string{{"foo": "bar"}}
	out := ApplyMapping(rows, map[string]string{}, MailAliases)
	if out[0]["address1"] != "" {
		t.Fatalf("expected empty string for unmapped field, got %q", out[0]["address1"])
	}
}

func TestRequiredFieldsBySource(t *testing.T) {
	if len(RequiredFor(model.SourceMail)) != 5 {
		t.Fatalf("expected 5 required mail fields")
	}
	if len(RequiredFor(model.SourceCRM)) != 5 {
		t.Fatalf("expected 5 required crm fields")
	}
}
