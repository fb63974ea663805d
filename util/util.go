package util

import (
	"math"
	"strings"
)

// StringInSlice returns true if str is in list.
func StringInSlice(str string, list []string) bool {
	for _, v := range list {
		if v == str {
			return true
		}
	}
	return false
}

// Finite returns true if f is neither NaN nor infinite.
func Finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// InRange returns true if f is finite and lo <= f <= hi.
func InRange(f, lo, hi float64) bool {
	return Finite(f) && f >= lo && f <= hi
}

// Blank returns true if s is empty or only whitespace.
func Blank(s string) bool {
	return len(strings.TrimSpace(s)) == 0
}

// Truncate shortens s to at most n runes, adding an ellipsis if
// anything was cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
