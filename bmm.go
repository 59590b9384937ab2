package molseg

import (
	"math"
	"sync"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

//BmmData owns the full fit state for one spatial frame: the molecule table,
//its adjacency list, the live component list, the persistent birth sampler
//component and the current molecule assignment vector (1..K, 0 = noise).
//Frames share no mutable state; each BmmData is fit independently.
type BmmData struct {
	Table      *MoleculeTable
	Adjacency  AdjacencyList
	Components []*Component
	Birth      *Component
	Assignment []int
}

//AssembleBmmData ties components, data and assignment into a fittable model,
//checking the construction invariant: every component's NSamples must match
//the number of molecules the assignment vector gives it. A violation is a bug
//in an initialization path and surfaces as InconsistencyError.
func AssembleBmmData(components []*Component, t *MoleculeTable, adj AdjacencyList, birth *Component, assignment []int) (*BmmData, error) {
	if len(assignment) != t.Len() || len(adj) != t.Len() {
		return nil, &InconsistencyError{Component: -1, NSamples: t.Len(), Assigned: len(assignment)}
	}
	if birth == nil || birth.CanBeDropped {
		return nil, &InvalidConfigurationError{Option: "birth_component", Reason: "birth sampler must be present and non-droppable"}
	}
	counts := make([]int, len(components)+1)
	for _, l := range assignment {
		if l < 0 || l > len(components) {
			return nil, &InconsistencyError{Component: l, NSamples: 0, Assigned: 1}
		}
		counts[l]++
	}
	for c, comp := range components {
		if comp.NSamples != counts[c+1] {
			return nil, &InconsistencyError{Component: c + 1, NSamples: comp.NSamples, Assigned: counts[c+1]}
		}
	}
	bd := new(BmmData)
	bd.Table = t
	bd.Adjacency = adj
	bd.Components = components
	bd.Birth = birth
	bd.Assignment = assignment
	return bd, nil
}

//InitialBmmData will build a consistent model from initial params: one
//droppable component per candidate center, maximized once over its assigned
//molecules, plus a birth sampler seeded at the global data scatter. When
//anchored is set (nuclear-stain centers), each component carries a center
//prior pulling its mean toward the initial center.
func InitialBmmData(t *MoleculeTable, adj AdjacencyList, init *InitialParams, cfg *Config, anchored bool) (*BmmData, error) {
	k := init.NCenters()
	priorVars := initialPriorVars(init, cfg.Scale)
	shape := ShapePrior{DegFreedom: cfg.ShapeDegFreedom, PriorVars: priorVars}
	components := make([]*Component, k)
	for c := 0; c < k; c++ {
		pos := NewMvNormalParams(init.MuX[c], init.MuY[c], init.Covs[c])
		var center *CenterPrior
		if anchored {
			center = &CenterPrior{MuX: init.MuX[c], MuY: init.MuY[c], DegFreedom: cfg.CenterDegFreedom}
		}
		components[c] = NewComponent(pos, t.NGenes(), shape, center, cfg.PriorComponentWeight, cfg.CompositionSmoothing, true)
	}
	assignment := append([]int(nil), init.Labels...)
	maximizeAll(components, t, assignment, cfg.Workers)
	birth := newBirthComponent(t, shape, cfg)
	return AssembleBmmData(components, t, adj, birth, assignment)
}

//newBirthComponent builds the persistent sampler component from the global
//data scatter; newly born components draw their shape from it.
func newBirthComponent(t *MoleculeTable, shape ShapePrior, cfg *Config) *Component {
	mx := stat.Mean(t.X, nil)
	my := stat.Mean(t.Y, nil)
	cov := empiricalCov(t.X, t.Y)
	if cov == nil {
		cov = shape.CovMatrix()
	}
	pos := NewMvNormalParams(mx, my, cov)
	birth := NewComponent(pos, t.NGenes(), shape, nil, cfg.NewComponentWeight, cfg.CompositionSmoothing, false)
	return birth
}

//initialPriorVars derives the shape prior variances from the initial
//covariances, or from the fixed scale override when configured.
func initialPriorVars(init *InitialParams, scale float64) [2]float64 {
	if scale > 0 {
		return [2]float64{scale * scale, scale * scale}
	}
	var vx, vy float64
	for _, c := range init.Covs {
		vx += c.At(0, 0)
		vy += c.At(1, 1)
	}
	n := float64(len(init.Covs))
	return [2]float64{vx / n, vy / n}
}

//maximizeAll groups molecules by component and refreshes every component's
//estimates, parallel across components. Each component reads only its own
//assigned subset, so sweeps share no mutable state.
func maximizeAll(components []*Component, t *MoleculeTable, assignment []int, workers int) {
	members := make([][]int, len(components))
	for i, l := range assignment {
		if l > 0 {
			members[l-1] = append(members[l-1], i)
		}
	}
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				rows := members[c]
				xs := make([]float64, len(rows))
				ys := make([]float64, len(rows))
				genes := make([]int, len(rows))
				var confs []float64
				if t.Confidence != nil {
					confs = make([]float64, len(rows))
				}
				for j, r := range rows {
					xs[j] = t.X[r]
					ys[j] = t.Y[r]
					genes[j] = t.Genes[r]
					if confs != nil {
						confs[j] = t.Confidence[r]
					}
				}
				components[c].Maximize(xs, ys, genes, confs)
			}
		}()
	}
	for c := range components {
		jobs <- c
	}
	close(jobs)
	wg.Wait()
}

//Iterate runs one fitting sweep: every molecule is reseated at the component
//maximizing position density, gene composition and local neighborhood
//consensus, with a Dirichlet-process-like birth option that can spawn a new
//component seeded at the molecule. Component estimates are then re-maximized
//and empty droppable components are removed. Assignment updates are
//serialized; only the maximize step runs across workers. Returns the number
//of reseated molecules.
func (bd *BmmData) Iterate(cfg *Config, rnd *rand.Rand) int {
	moved := 0
	n := bd.Table.Len()
	for i := 0; i < n; i++ {
		cur := bd.Assignment[i]
		best := cur
		bestScore := math.Inf(-1)
		for c, comp := range bd.Components {
			score := comp.LogDensity(bd.Table.X[i], bd.Table.Y[i], bd.Table.Genes[i]) + bd.neighborConsensus(i, c+1)
			if score > bestScore {
				bestScore = score
				best = c + 1
			}
		}
		if cfg.NewComponentWeight > 0 {
			birthScore := math.Log(cfg.NewComponentWeight) +
				bd.Birth.LogDensity(bd.Table.X[i], bd.Table.Y[i], bd.Table.Genes[i]) +
				bd.neighborConsensus(i, 0)
			if birthScore > bestScore {
				born := bd.Birth.SampleFrom(bd.Table.X[i], bd.Table.Y[i], rnd)
				bd.Components = append(bd.Components, born)
				best = len(bd.Components)
			}
		}
		if best != cur {
			bd.Assignment[i] = best
			moved++
		}
	}
	maximizeAll(bd.Components, bd.Table, bd.Assignment, cfg.Workers)
	bd.dropEmpty()
	return moved
}

//neighborConsensus scores how strongly molecule i's adjacency neighborhood
//already agrees with component label. The smoothing keeps freshly born
//components reachable.
func (bd *BmmData) neighborConsensus(i, label int) float64 {
	nbrs := bd.Adjacency[i]
	count := 0
	for _, nb := range nbrs {
		if bd.Assignment[nb] == label {
			count++
		}
	}
	return math.Log((float64(count) + 1.) / (float64(len(nbrs)) + 2.))
}

//dropEmpty removes components that may be dropped and hold no molecules,
//re-ranking the surviving labels densely.
func (bd *BmmData) dropEmpty() {
	remap := make([]int, len(bd.Components)+1)
	var kept []*Component
	for c, comp := range bd.Components {
		if comp.CanBeDropped && comp.NSamples == 0 {
			remap[c+1] = 0
			continue
		}
		kept = append(kept, comp)
		remap[c+1] = len(kept)
	}
	if len(kept) == len(bd.Components) {
		return
	}
	bd.Components = kept
	for i, l := range bd.Assignment {
		bd.Assignment[i] = remap[l]
	}
}

//CountMatrix will return the K x G matrix of per-component gene counts under
//the current assignment, the object consumed by downstream labeling and
//visualization.
func (bd *BmmData) CountMatrix() *mat.Dense {
	k := len(bd.Components)
	g := bd.Table.NGenes()
	if k == 0 || g == 0 {
		return mat.NewDense(1, 1, nil)
	}
	out := mat.NewDense(k, g, nil)
	for i, l := range bd.Assignment {
		gene := bd.Table.Genes[i]
		if l == 0 || gene == 0 {
			continue
		}
		out.Set(l-1, gene-1, out.At(l-1, gene-1)+1)
	}
	return out
}
