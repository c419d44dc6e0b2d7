package bands

import (
	"fmt"
	"math"
)

// Spacing selects how the analysed bin range is split into bands.
type Spacing string

const (
	Linear    Spacing = "linear"
	Geometric Spacing = "geometric"
)

// Frame holds one smoothed magnitude per band, each in [0, 1].
type Frame []float64

// ZeroFrame returns an all-zero frame of n bands.
func ZeroFrame(n int) Frame {
	if n < 0 {
		n = 0
	}
	return make(Frame, n)
}

// Clone returns a copy that does not alias f.
func (f Frame) Clone() Frame {
	if f == nil {
		return nil
	}
	out := make(Frame, len(f))
	copy(out, f)
	return out
}

// IsZero reports whether every band is exactly zero.
func (f Frame) IsZero() bool {
	for _, v := range f {
		if v != 0 {
			return false
		}
	}
	return true
}

// Partition returns n+1 ascending bin edges covering [lo, hi). Band i spans
// [edges[i], edges[i+1]). Linear spacing uses equal chunks; geometric spacing
// widens each band by a constant ratio, with at least one bin per band.
func Partition(lo, hi, n int, spacing Spacing) ([]int, error) {
	if n <= 0 {
		return nil, fmt.Errorf("bands: band count must be positive, got %d", n)
	}
	if lo < 0 || hi <= lo {
		return nil, fmt.Errorf("bands: invalid bin range [%d, %d)", lo, hi)
	}
	edges := make([]int, n+1)
	switch spacing {
	case Geometric:
		if hi-lo < n {
			return nil, fmt.Errorf("bands: %d bins cannot hold %d geometric bands", hi-lo, n)
		}
		base := float64(max(lo, 1))
		ratio := float64(hi) / base
		edges[0] = lo
		for i := 1; i < n; i++ {
			e := int(math.Round(base * math.Pow(ratio, float64(i)/float64(n))))
			// keep one bin per remaining band
			e = max(e, edges[i-1]+1)
			e = min(e, hi-(n-i))
			edges[i] = e
		}
		edges[n] = hi
	case Linear, "":
		chunk := (hi - lo + n - 1) / n
		for i := 0; i <= n; i++ {
			edges[i] = min(lo+i*chunk, hi)
		}
	default:
		return nil, fmt.Errorf("bands: unknown spacing %q", spacing)
	}
	return edges, nil
}

// normalizeDB maps a decibel value onto [0, 1] between minDB and maxDB and
// lifts quiet values with a square root.
func normalizeDB(db, minDB, maxDB float64) float64 {
	if math.IsNaN(db) || db <= minDB {
		return 0
	}
	if db >= maxDB {
		return 1
	}
	return math.Sqrt((db - minDB) / (maxDB - minDB))
}

// reduce averages the normalized bins of each band. Empty bands are zero.
func reduce(norm []float64, edges []int, out Frame) {
	for i := range out {
		a, b := edges[i], edges[i+1]
		if b <= a {
			out[i] = 0
			continue
		}
		sum := 0.0
		for _, v := range norm[a:b] {
			sum += v
		}
		out[i] = sum / float64(b-a)
	}
}
