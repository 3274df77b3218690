// Package normalize implements the address normalizer (C1): pure,
// deterministic string functions with no IO, so that the matcher, the
// identity layer, and the dedupe layer all see the same address vocabulary.
//
// Grounded on server/app/utils/normalize.py of the original system: the
// STREET_TYPES/DIRECTIONALS canonicalization tables and the
// normalize_address1/block_key/zip5/build_full_address functions are
// ported verbatim in meaning.
package normalize

import (
	"regexp"
	"strings"
)

// StreetTypes canonicalizes street-type abbreviations to one spelling.
var StreetTypes = map[string]string{
	"street": "street", "st": "street", "st.": "street",
	"road": "road", "rd": "road", "rd.": "road",
	"avenue": "avenue", "ave": "avenue", "ave.": "avenue", "av": "avenue", "av.": "avenue",
	"boulevard": "boulevard", "blvd": "boulevard", "blvd.": "boulevard",
	"lane": "lane", "ln": "lane", "ln.": "lane",
	"drive": "drive", "dr": "drive", "dr.": "drive",
	"court": "court", "ct": "court", "ct.": "court",
	"circle": "circle", "cir": "circle", "cir.": "circle",
	"parkway": "parkway", "pkwy": "parkway", "pkwy.": "parkway",
	"highway": "highway", "hwy": "highway", "hwy.": "highway",
	"terrace": "terrace", "ter": "terrace", "ter.": "terrace",
	"place": "place", "pl": "place", "pl.": "place",
	"way": "way", "wy": "way", "wy.": "way",
	"trail": "trail", "trl": "trail", "trl.": "trail",
	"alley": "alley", "aly": "alley", "aly.": "alley",
	"common": "common", "cmn": "common", "cmn.": "common",
	"park": "park",
}

// Directionals canonicalizes compass-direction abbreviations.
var Directionals = map[string]string{
	"n": "north", "n.": "north", "north": "north",
	"s": "south", "s.": "south", "south": "south",
	"e": "east", "e.": "east", "east": "east",
	"w": "west", "w.": "west", "west": "west",
	"ne": "northeast", "ne.": "northeast",
	"nw": "northwest", "nw.": "northwest",
	"se": "southeast", "se.": "southeast",
	"sw": "southwest", "sw.": "southwest",
}

// UnitWords flags tokens that denote a sub-unit (apartment/suite/etc.),
// used by the matcher's note generator.
var UnitWords = map[string]bool{
	"apt": true, "apartment": true, "suite": true, "ste": true, "unit": true, "#": true,
}

var (
	wsRE            = regexp.MustCompile(`\s+`)
	nonWordKeepHash = regexp.MustCompile(`[^\w#\s]`)
	zipDigitsOnly   = regexp.MustCompile(`\D+`)
)

func squashWS(s string) string {
	return strings.TrimSpace(wsRE.ReplaceAllString(s, " "))
}

func normToken(tok string) string {
	t := strings.ToLower(strings.Trim(tok, ".,"))
	if v, ok := StreetTypes[t]; ok {
		return v
	}
	if v, ok := Directionals[t]; ok {
		return v
	}
	return t
}

// NormalizeAddress1 lowercases, replaces '-' with space, strips non-word
// characters (keeping '#' for units), tokenizes, canonicalizes each token,
// and collapses whitespace. Returns "" for empty input.
func NormalizeAddress1(s string) string {
	s = strings.ReplaceAll(s, "-", " ")
	s = nonWordKeepHash.ReplaceAllString(s, " ")
	fields := strings.Fields(strings.ToLower(s))
	parts := make([]string, 0, len(fields))
	for _, p := range fields {
		if strings.TrimSpace(p) == "" {
			continue
		}
		parts = append(parts, normToken(p))
	}
	return squashWS(strings.Join(parts, " "))
}

// BlockKey returns "<first-token>|<second-token-initial>" in lowercase, or
// "" if addr1 has fewer than one token.
func BlockKey(addr1 string) string {
	toks := strings.Fields(squashWS(addr1))
	if len(toks) == 0 {
		return ""
	}
	first := toks[0]
	secondInitial := ""
	if len(toks) > 1 && len(toks[1]) > 0 {
		secondInitial = toks[1][:1]
	}
	return strings.ToLower(first + "|" + secondInitial)
}

// Tokens splits a normalized address1 into its tokens.
func Tokens(s string) []string {
	n := NormalizeAddress1(s)
	if n == "" {
		return nil
	}
	return strings.Fields(n)
}

// StreetTypeOf returns the canonical street type present at the end of a
// token list, if any.
func StreetTypeOf(toks []string) string {
	if len(toks) == 0 {
		return ""
	}
	last := toks[len(toks)-1]
	for _, v := range StreetTypes {
		if v == last {
			return last
		}
	}
	return ""
}

// DirectionalIn returns the first canonical directional found in toks, if any.
func DirectionalIn(toks []string) string {
	for _, t := range toks {
		for _, v := range Directionals {
			if v == t {
				return t
			}
		}
	}
	return ""
}

// Zip5 returns the first 5 numeric digits of z, keeping leading zeros; ""
// if there are none. "02139-4307" -> "02139"; " 85004 1234 " -> "85004".
func Zip5(z string) string {
	s := strings.TrimSpace(z)
	if s == "" {
		return ""
	}
	digits := zipDigitsOnly.ReplaceAllString(s, "")
	if len(digits) > 5 {
		return digits[:5]
	}
	return digits
}

// BuildFullAddress concatenates the normalized address1 with raw address2,
// city, state, and zip5, whitespace-collapsed and lowercased. This is the
// stable address identity used for hashing and display throughout the
// system (§4.1).
func BuildFullAddress(addr1, addr2, city, state, zip string) string {
	parts := []string{
		NormalizeAddress1(addr1),
		strings.TrimSpace(addr2),
		strings.TrimSpace(city),
		strings.TrimSpace(state),
		Zip5(zip),
	}
	return strings.ToLower(squashWS(strings.Join(parts, " ")))
}
