package models

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// PlayerKey identifies a character on the rating service.
// All three parts are normalized so that keys compare case-insensitively.
type PlayerKey struct {
	Region string
	Realm  string
	Name   string
}

// NewPlayerKey builds a normalized key from raw ranking-service values
func NewPlayerKey(region, realm, name string) (PlayerKey, error) {
	r, err := NormalizeRegion(region)
	if err != nil {
		return PlayerKey{}, err
	}

	slug := NormalizeRealm(realm)
	if slug == "" {
		return PlayerKey{}, fmt.Errorf("empty realm slug for %q", realm)
	}

	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return PlayerKey{}, fmt.Errorf("empty player name")
	}

	return PlayerKey{Region: r, Realm: slug, Name: n}, nil
}

// String returns region/realm/name
func (k PlayerKey) String() string {
	return k.Region + "/" + k.Realm + "/" + k.Name
}

// NormalizeRegion maps the region spellings seen in ranking payloads to the
// two-letter code the rating service expects.
func NormalizeRegion(region string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(region)) {
	case "eu", "europe":
		return "eu", nil
	case "us", "america", "na":
		return "us", nil
	case "kr", "korea":
		return "kr", nil
	case "tw", "taiwan":
		return "tw", nil
	case "cn", "china":
		return "cn", nil
	default:
		return "", fmt.Errorf("unknown region: %q", region)
	}
}

// NormalizeRealm converts a display realm name into the rating service slug:
//
//	"Tarren Mill"  -> "tarren-mill"
//	"Quel'Thalas"  -> "quel-thalas"
//	"Aggra (Português)" -> "aggra-portugues"
func NormalizeRealm(realm string) string {
	// Transformers keep state, build one per call.
	stripMarks := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))

	s := strings.ToLower(strings.TrimSpace(realm))
	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}

	var b strings.Builder
	pendingHyphen := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '-', r == '\'', r == '’', r == '`':
			pendingHyphen = true
		}
	}

	return b.String()
}
