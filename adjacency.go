package molseg

import (
	"log"
	"math"
	"sort"
	"sync"

	"github.com/fogleman/delaunay"
	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
)

//AdjacencyList maps each molecule index to its sorted neighbor indices. The
//list is symmetric (i in adj[j] iff j in adj[i]) and every molecule carries a
//self loop, so adj[i] is never empty. Built once per spatial frame and
//read-only during fitting.
type AdjacencyList [][]int

//rescaleMargin keeps rescaled points strictly inside the unit square so the
//triangulation never sees points on its domain boundary.
const rescaleMargin = 0.02

//collisionJitter is the half-width of the uniform perturbation applied to
//points whose rescaled coordinates collide at 3-decimal granularity.
const collisionJitter = 1e-3

//BuildAdjacency will construct the molecule adjacency list from raw positions
//via Delaunay triangulation. Positions are rescaled into the unit square,
//exact-duplicate coordinates are jittered apart, and when filterOutliers is
//set, edges whose log10 length exceeds median + madMultiplier*MAD are dropped
//(spurious hull and sparse-region edges). Every node ends up with a self loop.
func BuildAdjacency(x, y []float64, filterOutliers bool, madMultiplier float64, rnd *rand.Rand) (AdjacencyList, error) {
	n := len(x)
	if n != len(y) {
		return nil, &DegenerateInputError{Frame: -1, Reason: "x and y have unequal lengths"}
	}
	if n < 3 {
		return nil, &DegenerateInputError{Frame: -1, Reason: "fewer than 3 points for triangulation"}
	}
	px, py := rescaleUnit(x, y)
	jitterCollisions(px, py, rnd)
	points := make([]delaunay.Point, n)
	for i := 0; i < n; i++ {
		points[i] = delaunay.Point{X: px[i], Y: py[i]}
	}
	tri, err := delaunay.Triangulate(points)
	if err != nil {
		return nil, &DegenerateInputError{Frame: -1, Reason: "triangulation failed: " + err.Error()}
	}
	var src, dst []int
	for e := 0; e < len(tri.Triangles); e++ {
		if e > tri.Halfedges[e] {
			src = append(src, tri.Triangles[e])
			dst = append(dst, tri.Triangles[nextHalfedge(e)])
		}
	}
	if len(src) == 0 {
		return nil, &DegenerateInputError{Frame: -1, Reason: "triangulation produced no edges"}
	}
	keep := make([]bool, len(src))
	for i := range keep {
		keep[i] = true
	}
	if filterOutliers {
		logLens := make([]float64, len(src))
		for i := range src {
			d := math.Hypot(px[src[i]]-px[dst[i]], py[src[i]]-py[dst[i]])
			logLens[i] = math.Log10(d)
		}
		med := median(logLens)
		cutoff := med + madMultiplier*mad(logLens, med)
		for i, l := range logLens {
			if l > cutoff {
				keep[i] = false
			}
		}
	}
	adj := make(AdjacencyList, n)
	for i := range src {
		if !keep[i] {
			continue
		}
		adj[src[i]] = append(adj[src[i]], dst[i])
		adj[dst[i]] = append(adj[dst[i]], src[i])
	}
	for i := 0; i < n; i++ {
		adj[i] = append(adj[i], i)
		sort.Ints(adj[i])
		adj[i] = dedupSorted(adj[i])
	}
	return adj, nil
}

func nextHalfedge(e int) int {
	if e%3 == 2 {
		return e - 2
	}
	return e + 1
}

//rescaleUnit maps positions into [margin, 1-margin]^2, preserving the aspect
//ratio. A zero-span axis collapses onto the margin; duplicate handling is
//left to the jitter pass.
func rescaleUnit(x, y []float64) ([]float64, []float64) {
	minX, maxX := x[0], x[0]
	minY, maxY := y[0], y[0]
	for i := 1; i < len(x); i++ {
		minX = math.Min(minX, x[i])
		maxX = math.Max(maxX, x[i])
		minY = math.Min(minY, y[i])
		maxY = math.Max(maxY, y[i])
	}
	span := math.Max(maxX-minX, maxY-minY)
	if span == 0 {
		span = 1
	}
	scale := (1 - 2*rescaleMargin) / span
	px := make([]float64, len(x))
	py := make([]float64, len(y))
	for i := range x {
		px[i] = rescaleMargin + (x[i]-minX)*scale
		py[i] = rescaleMargin + (y[i]-minY)*scale
	}
	return px, py
}

//jitterCollisions detects coordinate collisions at 3-decimal granularity and
//random-walks collided points in +-1e-3 steps until every point occupies its
//own cell. Exact duplicates would otherwise yield degenerate triangles.
func jitterCollisions(px, py []float64, rnd *rand.Rand) {
	seen := make(map[[2]int64]bool, len(px))
	for i := range px {
		key := roundKey(px[i], py[i])
		for attempt := 0; seen[key]; attempt++ {
			px[i] += (rnd.Float64()*2 - 1) * collisionJitter
			py[i] += (rnd.Float64()*2 - 1) * collisionJitter
			key = roundKey(px[i], py[i])
			if attempt > 10000 {
				break
			}
		}
		seen[key] = true
	}
}

func roundKey(x, y float64) [2]int64 {
	return [2]int64{int64(math.Round(x * 1000)), int64(math.Round(y * 1000))}
}

func dedupSorted(s []int) []int {
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

//ConnectedComponents labels each node of the adjacency list with a component
//id in 1..C via breadth-first traversal.
func ConnectedComponents(adj AdjacencyList) []int {
	labels := make([]int, len(adj))
	next := 0
	var queue []int
	for start := range adj {
		if labels[start] != 0 {
			continue
		}
		next++
		labels[start] = next
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, nb := range adj[cur] {
				if labels[nb] == 0 {
					labels[nb] = next
					queue = append(queue, nb)
				}
			}
		}
	}
	return labels
}

//FilterSmallComponents will drop every connected component holding fewer than
//minMolecules molecules, returning the filtered table, the remapped adjacency
//list and the kept original row indices.
func FilterSmallComponents(t *MoleculeTable, adj AdjacencyList, minMolecules int) (*MoleculeTable, AdjacencyList, []int) {
	labels := ConnectedComponents(adj)
	sizes := make(map[int]int)
	for _, l := range labels {
		sizes[l]++
	}
	remap := make([]int, len(adj))
	var kept []int
	for i, l := range labels {
		if sizes[l] >= minMolecules {
			remap[i] = len(kept)
			kept = append(kept, i)
		} else {
			remap[i] = -1
		}
	}
	newAdj := make(AdjacencyList, len(kept))
	for newI, oldI := range kept {
		for _, nb := range adj[oldI] {
			if remap[nb] >= 0 {
				newAdj[newI] = append(newAdj[newI], remap[nb])
			}
		}
	}
	return t.Subset(kept), newAdj, kept
}

//NearestNeighbors will return the k nearest molecules (self included) for
//every molecule, brute force. k below 3 is clamped to 3 with a warning; k
//above the molecule count is capped.
func NearestNeighbors(x, y []float64, k int) [][]int {
	n := len(x)
	if k < 3 {
		log.Printf("neighborhood size %d is below the minimum, clamping to 3", k)
		k = 3
	}
	if k > n {
		k = n
	}
	type distIdx struct {
		d float64
		i int
	}
	out := make([][]int, n)
	buf := make([]distIdx, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			buf[j] = distIdx{math.Hypot(x[i]-x[j], y[i]-y[j]), j}
		}
		sort.Slice(buf, func(a, b int) bool { return buf[a].d < buf[b].d })
		nbrs := make([]int, k)
		for j := 0; j < k; j++ {
			nbrs[j] = buf[j].i
		}
		out[i] = nbrs
	}
	return out
}

//NeighborhoodComposition will compute, for every molecule, the gene
//composition of its adjacency neighborhood as a row-stochastic n x G matrix.
//Molecule confidences weight neighbor contributions as fractional counts.
//When normalizeByDist is set, contributions are instead downweighted by
//distance and confidences are dropped with a warning. Rows are computed
//concurrently by the given number of workers; each neighborhood's output is
//independent.
func NeighborhoodComposition(t *MoleculeTable, adj AdjacencyList, normalizeByDist bool, workers int) *mat.Dense {
	n := t.Len()
	g := t.NGenes()
	conf := t.Confidence
	if normalizeByDist && conf != nil {
		log.Println("confidence values are incompatible with distance normalization and will be ignored")
		conf = nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	out := mat.NewDense(n, g, nil)
	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				row := out.RawRowView(i)
				total := 0.
				for _, nb := range adj[i] {
					gene := t.Genes[nb]
					if gene == 0 {
						continue
					}
					wt := 1.
					if conf != nil {
						wt = conf[nb]
					}
					if normalizeByDist && nb != i {
						wt = 1. / (1. + math.Hypot(t.X[i]-t.X[nb], t.Y[i]-t.Y[nb]))
					}
					row[gene-1] += wt
					total += wt
				}
				if total > 0 {
					for j := range row {
						row[j] /= total
					}
				}
			}
		}(lo, hi)
	}
	wg.Wait()
	return out
}
