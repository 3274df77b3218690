package identity

import (
	"testing"
	"time"
)

func TestMailKeyPrefersSourceID(t *testing.T) {
	d := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := MailKey("M1", "123 main street austin tx 78701", &d); got != "M1" {
		t.Fatalf("got %q want M1", got)
	}
}

func TestMailKeyHashesWhenNoSourceID(t *testing.T) {
	d := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	k1 := MailKey("", "123 main street austin tx 78701", &d)
	k2 := MailKey("", "123 main street austin tx 78701", &d)
	if k1 == "" || k1 != k2 {
		t.Fatalf("expected stable non-empty hash, got %q and %q", k1, k2)
	}
	if k1[:3] != "mk_" {
		t.Fatalf("expected mk_ prefix, got %q", k1)
	}
}

func TestMailKeyEmptyWithoutAndInputs(t *testing.T) {
	if got := MailKey("", "123 main street austin tx 78701", nil); got != "" {
		t.Fatalf("expected empty key, got %q", got)
	}
	d := time.Now()
	if got := MailKey("", "", &d); got != "" {
		t.Fatalf("expected empty key, got %q", got)
	}
}

func TestJobIndexPrefix(t *testing.T) {
	d := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	got := JobIndex("", "50 oak rd austin tx 78702", &d)
	if len(got) < 4 || got[:4] != "jid_" {
		t.Fatalf("expected jid_ prefix, got %q", got)
	}
}

func TestJobIndexDeterministic(t *testing.T) {
	d := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	a := JobIndex("", "50 oak rd austin tx 78702", &d)
	b := JobIndex("", "50 oak rd austin tx 78702", &d)
	if a != b {
		t.Fatalf("expected deterministic job index, got %q vs %q", a, b)
	}
}
