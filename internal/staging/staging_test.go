package staging

import (
	"testing"
)

func TestCoerceDateFormats(t *testing.T) {
	cases := []string{
		"2024-03-01",
		"03/01/2024",
		"03-01-2024",
		"01-03-2024",
		"2024/03/01",
		"03/01/24",
	}
	for _, s := range cases {
		if CoerceDate(s) == nil {
			t.Errorf("expected %q to parse", s)
		}
	}
}

func TestCoerceDateRejectsGarbage(t *testing.T) {
	if CoerceDate("not a date") != nil {
		t.Fatal("expected nil for unparsable date")
	}
	if CoerceDate("") != nil {
		t.Fatal("expected nil for empty date")
	}
}

func TestCoerceDecimalBlankIsZero(t *testing.T) {
	if !CoerceDecimal("").IsZero() {
		t.Fatal("expected zero for blank value")
	}
}

func TestCoerceDecimalParsesMoney(t *testing.T) {
	d := CoerceDecimal("500")
	if d.StringFixed(2) != "500.00" {
		t.Fatalf("got %s", d.StringFixed(2))
	}
}

func TestRowHashStableUnderKeyOrder(t *testing.T) {
	a := map[string]string{"address1": "1 Main St", "city": "Austin", "zip": "78701"}
	b := map[string]string{"zip": "78701", "city": "Austin", "address1": "1 Main St"}
	if rowHash(a) != rowHash(b) {
		t.Fatal("expected rowHash to be order-independent")
	}
}

func TestRowHashChangesWithContent(t *testing.T) {
	a := map[string]string{"address1": "1 Main St", "city": "Austin"}
	b := map[string]string{"address1": "2 Main St", "city": "Austin"}
	if rowHash(a) == rowHash(b) {
		t.Fatal("expected rowHash to differ for different content")
	}
}
