package molseg

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

//median will return the median of vals without mutating the input.
func median(vals []float64) float64 {
	n := len(vals)
	if n == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2.
}

//madConsistency rescales the raw MAD to a consistent estimator of the
//standard deviation under normality.
const madConsistency = 1.4826

//mad will return the median absolute deviation of vals about med, scaled to
//estimate a standard deviation.
func mad(vals []float64, med float64) float64 {
	devs := make([]float64, len(vals))
	for i, v := range vals {
		devs[i] = math.Abs(v - med)
	}
	return madConsistency * median(devs)
}

//diagSym will return a 2x2 diagonal matrix with the given variances.
func diagSym(vxx, vyy float64) *mat.SymDense {
	s := mat.NewSymDense(2, nil)
	s.SetSym(0, 0, vxx)
	s.SetSym(1, 1, vyy)
	return s
}

//cloneSym will deep-copy a symmetric matrix so components never alias prior
//state.
func cloneSym(s *mat.SymDense) *mat.SymDense {
	out := mat.NewSymDense(2, nil)
	out.CopySym(s)
	return out
}

//meanSymCovs averages a set of 2x2 covariance matrices elementwise, skipping
//nil entries. Returns nil if no valid matrix exists.
func meanSymCovs(covs []*mat.SymDense) *mat.SymDense {
	sum := mat.NewSymDense(2, nil)
	count := 0
	for _, c := range covs {
		if c == nil {
			continue
		}
		sum.AddSym(sum, c)
		count++
	}
	if count == 0 {
		return nil
	}
	out := mat.NewSymDense(2, nil)
	for i := 0; i < 2; i++ {
		for j := i; j < 2; j++ {
			out.SetSym(i, j, sum.At(i, j)/float64(count))
		}
	}
	return out
}
