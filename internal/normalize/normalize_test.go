package normalize

import "testing"

func TestNormalizeAddress1Idempotent(t *testing.T) {
	s := "123 N. Main St. Apt #4"
	once := NormalizeAddress1(s)
	twice := NormalizeAddress1(once)
	if once != twice {
		t.Fatalf("not idempotent: %q != %q", once, twice)
	}
}

func TestNormalizeAddress1Canonicalizes(t *testing.T) {
	got := NormalizeAddress1("123 N Main St")
	want := "123 north main street"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBlockKeyStreetTypeInvariant(t *testing.T) {
	a := BlockKey(NormalizeAddress1("123 Main St"))
	b := BlockKey(NormalizeAddress1("123 Main Street"))
	if a != b {
		t.Fatalf("block keys differ: %q vs %q", a, b)
	}
}

func TestZip5(t *testing.T) {
	cases := map[string]string{
		"02139-4307":    "02139",
		" 85004 1234 ":  "85004",
		"78701":         "78701",
		"":               "",
		"abc":            "",
	}
	for in, want := range cases {
		if got := Zip5(in); got != want {
			t.Errorf("Zip5(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildFullAddress(t *testing.T) {
	got := BuildFullAddress("123 Main St", "", "Austin", "TX", "78701-1234")
	want := "123 main street austin tx 78701"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBlockKeyEmpty(t *testing.T) {
	if BlockKey("") != "" {
		t.Fatal("expected empty block key for empty input")
	}
}
