package molseg

import (
	"errors"
	"sync"

	"golang.org/x/exp/rand"
)

//FrameResult carries one frame's fitted model, or the error that aborted it.
//Frames fail independently: a frame without usable data never corrupts or
//blocks its siblings.
type FrameResult struct {
	Frame *Frame
	Data  *BmmData
	Err   error
}

//FitFrame will run the whole per-frame pipeline: adjacency construction,
//small-component filtering, initial parameter estimation (from the prior
//centers falling inside the frame when given, otherwise from clustering) and
//cfg.Iterations fitting sweeps. The returned model's Frame.Index maps rows
//back to the parent table.
func FitFrame(frame *Frame, cx, cy []float64, cfg *Config, rnd *rand.Rand) (*BmmData, error) {
	t := frame.Table
	adj, err := BuildAdjacency(t.X, t.Y, cfg.FilterEdges, cfg.NMads, rnd)
	if err != nil {
		return nil, tagFrame(err, frame.ID)
	}
	if cfg.MinMoleculesPerCell > 1 {
		var kept []int
		t, adj, kept = FilterSmallComponents(t, adj, cfg.MinMoleculesPerCell)
		newIndex := make([]int, len(kept))
		for i, r := range kept {
			newIndex[i] = frame.Index[r]
		}
		frame.Table = t
		frame.Index = newIndex
		if t.Len() < 3 {
			return nil, &DegenerateInputError{Frame: frame.ID, Reason: "too few molecules after small-component filtering"}
		}
	}
	var init *InitialParams
	anchored := len(cx) > 0
	if anchored {
		fx, fy := centersInFrame(t, cx, cy)
		if len(fx) == 0 {
			return nil, &DegenerateInputError{Frame: frame.ID, Reason: "no prior centers inside the frame bounding box"}
		}
		init, err = EstimateInitialFromCenters(t, fx, fy, cfg.Scale)
	} else {
		init, err = EstimateInitialFromClustering(t, cfg.NCellsInit, cfg.MinMoleculesPerCell, cfg.Scale, rnd)
	}
	if err != nil {
		return nil, tagFrame(err, frame.ID)
	}
	bd, err := InitialBmmData(t, adj, init, cfg, anchored)
	if err != nil {
		return nil, tagFrame(err, frame.ID)
	}
	for iter := 0; iter < cfg.Iterations; iter++ {
		if bd.Iterate(cfg, rnd) == 0 {
			break
		}
	}
	return bd, nil
}

//RunFrames will split the table into frames and fit them concurrently, one
//goroutine and one seeded random source per frame, so runs are deterministic
//for a fixed seed regardless of scheduling.
func RunFrames(t *MoleculeTable, cx, cy []float64, cfg *Config, seed uint64) []FrameResult {
	nFrames := cfg.NFrames
	if nFrames < 1 {
		nFrames = t.FramesForMeanSize(cfg.MeanMolsPerFrame)
	}
	frames := t.SplitFrames(nFrames)
	results := make([]FrameResult, len(frames))
	var wg sync.WaitGroup
	for i, frame := range frames {
		wg.Add(1)
		go func(i int, frame *Frame) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed + uint64(frame.ID)))
			bd, err := FitFrame(frame, cx, cy, cfg, rnd)
			results[i] = FrameResult{Frame: frame, Data: bd, Err: err}
		}(i, frame)
	}
	wg.Wait()
	return results
}

//centersInFrame keeps the prior centers falling inside the frame's molecule
//bounding box.
func centersInFrame(t *MoleculeTable, cx, cy []float64) ([]float64, []float64) {
	minX, maxX := t.X[0], t.X[0]
	minY, maxY := t.Y[0], t.Y[0]
	for i := 1; i < t.Len(); i++ {
		if t.X[i] < minX {
			minX = t.X[i]
		}
		if t.X[i] > maxX {
			maxX = t.X[i]
		}
		if t.Y[i] < minY {
			minY = t.Y[i]
		}
		if t.Y[i] > maxY {
			maxY = t.Y[i]
		}
	}
	var fx, fy []float64
	for k := range cx {
		if cx[k] >= minX && cx[k] <= maxX && cy[k] >= minY && cy[k] <= maxY {
			fx = append(fx, cx[k])
			fy = append(fy, cy[k])
		}
	}
	return fx, fy
}

//tagFrame stamps the frame identifier onto degenerate-input errors raised by
//frame-agnostic helpers.
func tagFrame(err error, id int) error {
	var de *DegenerateInputError
	if errors.As(err, &de) && de.Frame < 0 {
		de.Frame = id
	}
	return err
}
