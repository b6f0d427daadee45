package model

import (
	"math/big"
	"regexp"
	"strings"
)

var (
	scientific  = regexp.MustCompile(`^[+-]?\d+(\.\d+)?e[+-]?\d+$`)
	floatSuffix = regexp.MustCompile(`^(\d+)\.0+$`)
)

// NormalizeID lower-cases an external identifier and strips the artifacts
// spreadsheets and float parsing leave behind ("123.0", "1.23e+18").
func NormalizeID(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "@")
	if s == "" {
		return "", ErrInvalidID
	}
	if scientific.MatchString(s) {
		f, _, err := big.ParseFloat(s, 10, 256, big.ToNearestEven)
		if err != nil {
			return "", ErrInvalidID
		}
		i, _ := f.Int(nil)
		s = i.String()
	}
	if m := floatSuffix.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	return s, nil
}

// NormalizeIDs normalizes every ID, dropping duplicates while keeping input
// order. Values that fail to normalize are returned separately as given.
func NormalizeIDs(raw []string) (ids, invalid []string) {
	seen := make(map[string]struct{}, len(raw))
	ids = make([]string, 0, len(raw))
	for _, r := range raw {
		id, err := NormalizeID(r)
		if err != nil {
			invalid = append(invalid, r)
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, invalid
}
