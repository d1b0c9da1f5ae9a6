package anim

import "github.com/chewxy/math32"

// interp reconstructs the value between two kept samples the way the runtime
// does: linear for scalars, normalized linear for quaternions.
func interp(a, b [4]float32, f float32, dim int) [4]float32 {
	var out [4]float32
	for i := 0; i < dim; i++ {
		out[i] = a[i] + (b[i]-a[i])*f
	}
	if dim == 4 {
		l := math32.Sqrt(out[0]*out[0] + out[1]*out[1] + out[2]*out[2] + out[3]*out[3])
		if l > 0 {
			for i := range out {
				out[i] /= l
			}
		}
	}
	return out
}

func sqErr(a, b [4]float32, dim int) float64 {
	var e float64
	for i := 0; i < dim; i++ {
		d := float64(a[i] - b[i])
		e += d * d
	}
	return e
}

// valueRange returns the spread of scalar samples, or 1 for quaternions and
// flat curves.
func valueRange(samples [][4]float32, dim int) float64 {
	if dim != 1 || len(samples) == 0 {
		return 1
	}
	lo, hi := samples[0][0], samples[0][0]
	for _, s := range samples[1:] {
		lo = math32.Min(lo, s[0])
		hi = math32.Max(hi, s[0])
	}
	if hi-lo < 1e-6 {
		return 1
	}
	return float64(hi - lo)
}

// decimate walks the interior samples once from left to right and removes
// each one whose removal keeps both the mean squared error between its
// current neighbours and the mean squared error over the whole curve within
// bounds. No two kept samples end up more than maxGap samples apart. It
// returns the indices of the kept samples.
func decimate(samples [][4]float32, dim int, maxGlobal, maxLocal float64, maxGap int) []int {
	n := len(samples)
	if n <= 2 {
		kept := make([]int, n)
		for i := range kept {
			kept[i] = i
		}
		return kept
	}

	rng := valueRange(samples, dim)
	norm := rng * rng
	prev := make([]int, n)
	next := make([]int, n)
	for i := range samples {
		prev[i], next[i] = i-1, i+1
	}
	errs := make([]float64, n)
	scratch := make([]float64, 0, n)
	var total float64

	for i := 1; i < n-1; i++ {
		p, q := prev[i], next[i]
		if q-p > maxGap {
			continue
		}
		scratch = scratch[:0]
		var local, old float64
		for k := p + 1; k < q; k++ {
			f := float32(k-p) / float32(q-p)
			e := sqErr(samples[k], interp(samples[p], samples[q], f, dim), dim) / norm
			scratch = append(scratch, e)
			local += e
			old += errs[k]
		}
		if local/float64(q-p-1) > maxLocal || (total-old+local)/float64(n) > maxGlobal {
			continue
		}
		copy(errs[p+1:q], scratch)
		total += local - old
		next[p], prev[q] = q, p
	}

	var kept []int
	for i := 0; i < n; i = next[i] {
		kept = append(kept, i)
	}
	return kept
}
