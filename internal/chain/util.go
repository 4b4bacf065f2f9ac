package chain

import "strconv"

// formatPyFloat renders a float64 the way Python's str()/f-string does for
// a float: always with a decimal point, e.g. 100.0 rather than Go's bare
// "100". Used only for human-readable rejection reasons, never for hashing
// or JSON (those use Go's own float64 encoding throughout).
func formatPyFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s
		}
	}
	return s + ".0"
}
