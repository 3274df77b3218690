// Package identity derives the stable per-user row keys (mail_key,
// job_index) that make ingestion idempotent across repeated uploads and
// re-runs (C2).
//
// Grounded on build_mail_key/build_job_index in
// server/app/utils/normalize.py: prefer an authoritative source id; else
// require AND-semantics on (full_address, date) and hash them; else none.
package identity

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
)

func hashKey(prefix, fullAddress string, d time.Time) string {
	raw := strings.ToLower(strings.TrimSpace(fullAddress)) + "|" + d.Format("2006-01-02")
	sum := sha1.Sum([]byte(raw))
	return prefix + hex.EncodeToString(sum[:])[:16]
}

// MailKey returns the stable identity for a mail contact: sourceID if
// non-empty, else "mk_" + hex16(sha1(full_address + "|" + sent_date)) when
// both full_address and sentDate are present, else "" (caller must skip the
// row; it cannot be stored with no identity).
func MailKey(sourceID, fullAddress string, sentDate *time.Time) string {
	sid := strings.TrimSpace(sourceID)
	if sid != "" {
		return sid
	}
	if fullAddress != "" && sentDate != nil {
		return hashKey("mk_", fullAddress, *sentDate)
	}
	return ""
}

// JobIndex returns the stable identity for a CRM job: sourceID if
// non-empty, else "jid_" + hex16(sha1(full_address + "|" + job_date)) when
// both are present, else "".
func JobIndex(sourceID, fullAddress string, jobDate *time.Time) string {
	sid := strings.TrimSpace(sourceID)
	if sid != "" {
		return sid
	}
	if fullAddress != "" && jobDate != nil {
		return hashKey("jid_", fullAddress, *jobDate)
	}
	return ""
}
