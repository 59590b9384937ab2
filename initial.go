package molseg

import (
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

//InitialParams holds the candidate cell centers derived before fitting: a 2D
//position and 2x2 covariance per center, plus a per-molecule cluster label
//(1..K, 0 = unassigned). Never mutated after handoff to component
//initialization.
type InitialParams struct {
	MuX    []float64
	MuY    []float64
	Covs   []*mat.SymDense
	Labels []int
}

//NCenters will return K, the number of candidate centers.
func (ip *InitialParams) NCenters() int {
	return len(ip.MuX)
}

//EstimateInitialFromCenters will derive initial params from externally
//provided centers (nuclear stain): each molecule is assigned to its nearest
//center, labels are re-ranked densely, and each surviving cluster's empirical
//mean and covariance are estimated from its molecules. defaultStd, when
//positive, overrides every covariance with a fixed diagonal defaultStd^2.
func EstimateInitialFromCenters(t *MoleculeTable, cx, cy []float64, defaultStd float64) (*InitialParams, error) {
	if len(cx) == 0 || len(cx) != len(cy) {
		return nil, &DegenerateInputError{Frame: -1, Reason: "no prior centers matched the frame"}
	}
	n := t.Len()
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		best := 0
		bestD := math.Inf(1)
		for k := range cx {
			d := math.Hypot(t.X[i]-cx[k], t.Y[i]-cy[k])
			if d < bestD {
				bestD = d
				best = k + 1
			}
		}
		labels[i] = best
	}
	return paramsFromLabels(t, labels, len(cx), defaultStd)
}

//EstimateInitialFromClustering will derive initial params without external
//centers by a medoid-style clustering of molecule positions. The requested
//cluster count is silently capped by the molecule density budget
//(N / minMoleculesPerCell); over-requesting is never an error.
func EstimateInitialFromClustering(t *MoleculeTable, nClusters, minMoleculesPerCell int, defaultStd float64, rnd *rand.Rand) (*InitialParams, error) {
	n := t.Len()
	if n == 0 {
		return nil, &DegenerateInputError{Frame: -1, Reason: "empty molecule table"}
	}
	k := nClusters
	if minMoleculesPerCell > 0 {
		if budget := n / minMoleculesPerCell; k > budget {
			k = budget
		}
	}
	if k > n {
		k = n
	}
	if k < 1 {
		k = 1
	}
	labels := medoidCluster(t.X, t.Y, k, rnd)
	return paramsFromLabels(t, labels, k, defaultStd)
}

//medoidCluster runs a k-medoid-like clustering: medoids start at k distinct
//random molecules, each molecule joins its nearest medoid, and each medoid
//moves to the cluster member closest to the cluster centroid, until stable.
func medoidCluster(x, y []float64, k int, rnd *rand.Rand) []int {
	n := len(x)
	perm := rnd.Perm(n)
	medoids := append([]int(nil), perm[:k]...)
	labels := make([]int, n)
	const maxIter = 30
	for iter := 0; iter < maxIter; iter++ {
		for i := 0; i < n; i++ {
			best := 1
			bestD := math.Inf(1)
			for c, m := range medoids {
				d := math.Hypot(x[i]-x[m], y[i]-y[m])
				if d < bestD {
					bestD = d
					best = c + 1
				}
			}
			labels[i] = best
		}
		moved := false
		for c := range medoids {
			var sx, sy float64
			count := 0
			for i, l := range labels {
				if l == c+1 {
					sx += x[i]
					sy += y[i]
					count++
				}
			}
			if count == 0 {
				continue
			}
			gx, gy := sx/float64(count), sy/float64(count)
			best := medoids[c]
			bestD := math.Inf(1)
			for i, l := range labels {
				if l != c+1 {
					continue
				}
				d := math.Hypot(x[i]-gx, y[i]-gy)
				if d < bestD {
					bestD = d
					best = i
				}
			}
			if best != medoids[c] {
				medoids[c] = best
				moved = true
			}
		}
		if !moved {
			break
		}
	}
	return labels
}

//paramsFromLabels compacts cluster labels to a dense 1..K range and derives
//per-cluster empirical means and covariances. Clusters with degenerate
//covariance (fewer than 2 molecules, or zero variance on either axis) take
//the mean covariance across valid clusters instead, so no downstream matrix
//is singular.
func paramsFromLabels(t *MoleculeTable, labels []int, k int, defaultStd float64) (*InitialParams, error) {
	counts := make([]int, k+1)
	for _, l := range labels {
		counts[l]++
	}
	remap := make([]int, k+1)
	dense := 0
	for old := 1; old <= k; old++ {
		if counts[old] > 0 {
			dense++
			remap[old] = dense
		}
	}
	if dense == 0 {
		return nil, &DegenerateInputError{Frame: -1, Reason: "no molecules assigned to any center"}
	}
	out := new(InitialParams)
	out.Labels = make([]int, len(labels))
	for i, l := range labels {
		out.Labels[i] = remap[l]
	}
	out.MuX = make([]float64, dense)
	out.MuY = make([]float64, dense)
	out.Covs = make([]*mat.SymDense, dense)
	members := make([][]int, dense)
	for i, l := range out.Labels {
		members[l-1] = append(members[l-1], i)
	}
	for c, rows := range members {
		xs := make([]float64, len(rows))
		ys := make([]float64, len(rows))
		for j, r := range rows {
			xs[j] = t.X[r]
			ys[j] = t.Y[r]
		}
		out.MuX[c] = stat.Mean(xs, nil)
		out.MuY[c] = stat.Mean(ys, nil)
		out.Covs[c] = empiricalCov(xs, ys)
	}
	fallback := meanSymCovs(out.Covs)
	if fallback == nil {
		std := defaultStd
		if std <= 0 {
			std = 1
		}
		fallback = diagSym(std*std, std*std)
	}
	for c := range out.Covs {
		if out.Covs[c] == nil {
			out.Covs[c] = cloneSym(fallback)
		}
	}
	if defaultStd > 0 {
		for c := range out.Covs {
			out.Covs[c] = diagSym(defaultStd*defaultStd, defaultStd*defaultStd)
		}
	}
	return out, nil
}

//empiricalCov returns the sample covariance of the points, or nil when the
//estimate would be degenerate.
func empiricalCov(xs, ys []float64) *mat.SymDense {
	if len(xs) < 2 {
		return nil
	}
	data := mat.NewDense(len(xs), 2, nil)
	for i := range xs {
		data.Set(i, 0, xs[i])
		data.Set(i, 1, ys[i])
	}
	cov := mat.NewSymDense(2, nil)
	stat.CovarianceMatrix(cov, data, nil)
	if cov.At(0, 0) <= 0 || cov.At(1, 1) <= 0 {
		return nil
	}
	return cov
}
