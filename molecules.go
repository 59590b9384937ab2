package molseg

import (
	"math"
	"sort"
)

//MoleculeTable will store one molecule detection per row: 2D position, a
//dense integer gene code and an optional per-molecule confidence. Gene codes
//run 1..G with 0 reserved for missing/background calls; GeneNames maps a code
//back to its original label (GeneNames[code-1]).
type MoleculeTable struct {
	X          []float64
	Y          []float64
	Genes      []int
	Confidence []float64 // nil when the input carried no confidence column
	GeneNames  []string
}

//EncodeGenes will map string gene labels onto a dense 1..G integer range in
//order of first appearance. Empty labels encode as 0 (background).
func EncodeGenes(labels []string) (codes []int, names []string) {
	codes = make([]int, len(labels))
	index := make(map[string]int)
	for i, lab := range labels {
		if lab == "" {
			continue
		}
		code, ok := index[lab]
		if !ok {
			names = append(names, lab)
			code = len(names)
			index[lab] = code
		}
		codes[i] = code
	}
	return
}

//NewMoleculeTable will assemble a table from parallel columns. Confidence may
//be nil. Positions must be finite; gene codes must lie in [0, len(geneNames)].
func NewMoleculeTable(x, y []float64, genes []int, confidence []float64, geneNames []string) (*MoleculeTable, error) {
	n := len(x)
	if len(y) != n || len(genes) != n || (confidence != nil && len(confidence) != n) {
		return nil, &DegenerateInputError{Frame: -1, Reason: "molecule columns have unequal lengths"}
	}
	for i := 0; i < n; i++ {
		if math.IsNaN(x[i]) || math.IsInf(x[i], 0) || math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return nil, &DegenerateInputError{Frame: -1, Reason: "non-finite molecule position"}
		}
		if genes[i] < 0 || genes[i] > len(geneNames) {
			return nil, &DegenerateInputError{Frame: -1, Reason: "gene code outside the dense 1..G range"}
		}
	}
	t := new(MoleculeTable)
	t.X = x
	t.Y = y
	t.Genes = genes
	t.Confidence = confidence
	t.GeneNames = geneNames
	return t, nil
}

//Len will return the number of molecules in the table.
func (t *MoleculeTable) Len() int {
	return len(t.X)
}

//NGenes will return G, the size of the gene code range.
func (t *MoleculeTable) NGenes() int {
	return len(t.GeneNames)
}

//Subset will build a new table holding the given rows, in order. The gene
//name side table is shared; gene codes keep their meaning across subsets.
func (t *MoleculeTable) Subset(rows []int) *MoleculeTable {
	sub := new(MoleculeTable)
	sub.GeneNames = t.GeneNames
	sub.X = make([]float64, len(rows))
	sub.Y = make([]float64, len(rows))
	sub.Genes = make([]int, len(rows))
	if t.Confidence != nil {
		sub.Confidence = make([]float64, len(rows))
	}
	for i, r := range rows {
		sub.X[i] = t.X[r]
		sub.Y[i] = t.Y[r]
		sub.Genes[i] = t.Genes[r]
		if t.Confidence != nil {
			sub.Confidence[i] = t.Confidence[r]
		}
	}
	return sub
}

//Frame is one rectangular spatial partition of a molecule table. Index maps
//each row of Table back to its row in the parent table.
type Frame struct {
	ID    int
	Table *MoleculeTable
	Index []int
}

//SplitFrames will partition the table into at most nFrames rectangular frames
//bounded at quantiles of x and y, so frames carry roughly equal molecule
//counts. Frames share no molecules; empty frames are discarded.
func (t *MoleculeTable) SplitFrames(nFrames int) []*Frame {
	n := t.Len()
	if nFrames < 1 {
		nFrames = 1
	}
	if nFrames > n {
		nFrames = n
	}
	nx := int(math.Floor(math.Sqrt(float64(nFrames))))
	if nx < 1 {
		nx = 1
	}
	ny := nFrames / nx
	xCuts := quantileCuts(t.X, nx)
	yCuts := quantileCuts(t.Y, ny)
	cells := make(map[[2]int][]int)
	for i := 0; i < n; i++ {
		cx := cutIndex(xCuts, t.X[i])
		cy := cutIndex(yCuts, t.Y[i])
		key := [2]int{cx, cy}
		cells[key] = append(cells[key], i)
	}
	var keys [][2]int
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a][0] != keys[b][0] {
			return keys[a][0] < keys[b][0]
		}
		return keys[a][1] < keys[b][1]
	})
	var frames []*Frame
	for id, k := range keys {
		rows := cells[k]
		frames = append(frames, &Frame{ID: id, Table: t.Subset(rows), Index: rows})
	}
	return frames
}

//FramesForMeanSize will return the frame count that yields roughly
//meanMolsPerFrame molecules per frame.
func (t *MoleculeTable) FramesForMeanSize(meanMolsPerFrame int) int {
	if meanMolsPerFrame < 1 {
		return 1
	}
	nf := t.Len() / meanMolsPerFrame
	if nf < 1 {
		nf = 1
	}
	return nf
}

//quantileCuts returns the k-1 interior quantile boundaries splitting vals
//into k roughly equal groups.
func quantileCuts(vals []float64, k int) []float64 {
	if k < 2 {
		return nil
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	cuts := make([]float64, 0, k-1)
	for i := 1; i < k; i++ {
		q := float64(i) / float64(k)
		idx := int(q * float64(len(sorted)-1))
		cuts = append(cuts, sorted[idx])
	}
	return cuts
}

func cutIndex(cuts []float64, v float64) int {
	for i, c := range cuts {
		if v <= c {
			return i
		}
	}
	return len(cuts)
}
