package common

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Basic statistical helpers shared by the spectral and fitting code, backed by gonum

// Mean calculates the arithmetic mean of a slice using gonum
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return stat.Mean(data, nil)
}

// PopStdDev calculates the population (ddof = 0) standard deviation
func PopStdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	_, std := stat.PopMeanStdDev(data, nil)
	return std
}

// Span returns max(data) - min(data)
func Span(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return floats.Max(data) - floats.Min(data)
}

// SignChanges counts sign flips between consecutive non-zero values.
// Zeros are skipped: +, 0, - counts as one change.
func SignChanges(data []float64) int {
	changes := 0
	last := 0.0
	for _, v := range data {
		if v == 0 {
			continue
		}
		if last != 0 && math.Signbit(v) != math.Signbit(last) {
			changes++
		}
		last = v
	}
	return changes
}

// AllFinite reports whether every value is neither NaN nor Inf
func AllFinite(data []float64) bool {
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// StrictlyIncreasing reports whether data[i] < data[i+1] for all i
func StrictlyIncreasing(data []float64) bool {
	for i := 1; i < len(data); i++ {
		if !(data[i] > data[i-1]) {
			return false
		}
	}
	return true
}

// UniformStep returns the common step of data and true when data is evenly
// spaced to within a relative tolerance
func UniformStep(data []float64, relTol float64) (float64, bool) {
	if len(data) < 2 {
		return 0, false
	}
	step := (data[len(data)-1] - data[0]) / float64(len(data)-1)
	if !(step > 0) {
		return 0, false
	}
	for i := 1; i < len(data); i++ {
		if math.Abs((data[i]-data[i-1])-step) > relTol*step {
			return 0, false
		}
	}
	return step, true
}

// NearestIndex returns the index of the element of the sorted slice closest to x
func NearestIndex(sorted []float64, x float64) int {
	n := len(sorted)
	if n == 0 {
		return -1
	}
	i := sort.SearchFloat64s(sorted, x)
	switch {
	case i == 0:
		return 0
	case i == n:
		return n - 1
	case x-sorted[i-1] <= sorted[i]-x:
		return i - 1
	default:
		return i
	}
}

// Clamp restricts value to [min, max]
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// NextPowerOfTwo returns the smallest power of two >= n
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	power := 1
	for power < n {
		power <<= 1
	}
	return power
}
