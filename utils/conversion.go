package utils

import "math"

// ClampToInt converts int64 to int, clamping to [0, math.MaxInt].
func ClampToInt(v int64) int {
	if v < 0 {
		return 0
	}
	if v > int64(math.MaxInt) {
		return math.MaxInt
	}
	return int(v)
}

// MinInt64 returns the smaller of a and b.
func MinInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// CeilDiv returns n/d rounded up, 0 if d <= 0.
func CeilDiv(n, d int64) int64 {
	if d <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
