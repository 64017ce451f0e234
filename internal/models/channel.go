package models

import "strings"

// MatchChannel reports whether label passes the channel filter list.
// Filters are case-insensitive suffixes ("HZ" matches "EHZ"); "all" matches
// everything, as does an empty list.
func MatchChannel(label string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	upper := strings.ToUpper(label)
	for _, f := range filters {
		f = strings.ToUpper(strings.TrimSpace(f))
		if f == "ALL" {
			return true
		}
		if f != "" && strings.HasSuffix(upper, f) {
			return true
		}
	}
	return false
}
