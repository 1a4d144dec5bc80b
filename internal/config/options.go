package config

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Options fetches typed values from free-form maps such as parser.options.
// Values may arrive as native YAML/JSON types or, through ETL_* environment
// overrides, as strings; both are accepted. A missing key or a value that
// cannot be coerced yields the provided default.
//
// Viper lower-cases map keys, so lookups are case-insensitive in practice.
type Options map[string]any

func (o Options) get(key string) (any, bool) {
	if v, ok := o[key]; ok {
		return v, true
	}
	v, ok := o[strings.ToLower(key)]
	return v, ok
}

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o.get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def. Strings are parsed with
// strconv.ParseBool.
func (o Options) Bool(key string, def bool) bool {
	v, ok := o.get(key)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if p, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			return p
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64
// and YAML numbers as int, so both are accepted along with numeric strings.
func (o Options) Int(key string, def int) int {
	v, ok := o.get(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if p, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return p
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def. The
// two-character escape `\t` means a tab.
func (o Options) Rune(key string, def rune) rune {
	s := o.String(key, "")
	if s == "" {
		return def
	}
	if s == `\t` {
		return '\t'
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

// StringMap returns the object at key as map[string]string. Non-string
// values are skipped. The result is never nil.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	v, ok := o.get(key)
	if !ok {
		return res
	}
	switch m := v.(type) {
	case map[string]any:
		for k, vv := range m {
			if s, ok := vv.(string); ok {
				res[k] = s
			}
		}
	case map[string]string:
		for k, s := range m {
			res[k] = s
		}
	}
	return res
}

// StringSlice returns the array at key as []string, or nil.
func (o Options) StringSlice(key string) []string {
	v, ok := o.get(key)
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return vv
	case string:
		// Comma-separated form used by environment overrides.
		var out []string
		for _, s := range strings.Split(vv, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
