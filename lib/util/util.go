// Package util contains helper functions used around the code.
package util

// In returns true if s is found in ss, false otherwise.
func In(ss []string, s string) bool {
	for _, v := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// ClampPage bounds a limit/offset pair for paginated queries. A limit of
// zero or above max falls back to max, negative offsets become zero.
func ClampPage(limit, offset, max int) (int, int) {
	if limit <= 0 || limit > max {
		limit = max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// GweiToWei converts a gas price expressed in Gwei to Wei.
func GweiToWei(gwei uint64) uint64 {
	return gwei * 1e9
}
