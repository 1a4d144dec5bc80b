package validate

import (
	"strconv"
	"strings"
	"time"
)

// lowerSet builds a lowercased membership set. Empty input returns nil so
// callers can tell "custom vocabulary disabled" apart.
func lowerSet(in []string) map[string]struct{} {
	if len(in) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(in))
	for _, s := range in {
		m[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	return m
}

// toIntFast parses integers and only falls back to float parsing when the
// field contains a '.', accepting integral inputs like "42.0".
func toIntFast(s string) (int64, bool) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	if strings.IndexByte(s, '.') >= 0 {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			if f == float64(int64(f)) {
				return int64(f), true
			}
		}
	}
	return 0, false
}

// toBoolFast resolves booleans with optional custom vocabularies.
func toBoolFast(s string, custom bool, truthy, falsy map[string]struct{}) (bool, bool) {
	ls := strings.ToLower(s)
	if ls == "" {
		return false, false
	}
	if custom {
		if _, ok := truthy[ls]; ok {
			return true, true
		}
		if _, ok := falsy[ls]; ok {
			return false, true
		}
		return false, false
	}
	switch ls {
	case "1", "1.0", "t", "true", "yes", "y":
		return true, true
	case "0", "0.0", "f", "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}

// parseCZDate parses "02.01.2006" (DD.MM.YYYY) without time.Parse. It
// rejects impossible dates such as 31.02.
func parseCZDate(s string) (time.Time, bool) {
	if len(s) != 10 || s[2] != '.' || s[5] != '.' {
		return time.Time{}, false
	}
	d1, d0 := s[0]-'0', s[1]-'0'
	m1, m0 := s[3]-'0', s[4]-'0'
	y3, y2, y1, y0 := s[6]-'0', s[7]-'0', s[8]-'0', s[9]-'0'
	if d1 > 9 || d0 > 9 || m1 > 9 || m0 > 9 || y3 > 9 || y2 > 9 || y1 > 9 || y0 > 9 {
		return time.Time{}, false
	}
	day := int(d1)*10 + int(d0)
	mon := int(m1)*10 + int(m0)
	year := int(y3)*1000 + int(y2)*100 + int(y1)*10 + int(y0)
	if mon < 1 || mon > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(mon), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}
