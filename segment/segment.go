package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"golang.org/x/exp/rand"

	"github.com/tomoseg/molseg"
)

func main() {
	molArg := flag.String("i", "", "input molecule CSV (columns: x,y,gene[,confidence])")
	centerArg := flag.String("c", "", "optional prior cell center CSV (columns: x,y)")
	confArg := flag.String("conf", "", "YAML configuration file")
	outArg := flag.String("o", "molseg", "prefix for outfile names")
	seedArg := flag.Int64("seed", 0, "random seed (0 = time-based)")
	framesArg := flag.Int("frames", 0, "override n_frames from the config")
	workersArg := flag.Int("W", 0, "override worker count from the config")
	compArg := flag.Bool("comp", false, "also write per-molecule neighborhood gene compositions")
	distNormArg := flag.Bool("distnorm", false, "normalize neighborhood compositions by distance")
	flag.Parse()
	if *molArg == "" {
		log.Fatal("no input molecule file given (-i)")
	}
	cfg, err := molseg.LoadConfig(*confArg)
	if err != nil {
		log.Fatal(err)
	}
	if *framesArg > 0 {
		cfg.NFrames = *framesArg
	}
	if *workersArg > 0 {
		cfg.Workers = *workersArg
	}
	seed := uint64(*seedArg)
	if seed == 0 {
		seed = uint64(time.Now().UTC().UnixNano())
	}
	rand.Seed(seed)

	table, err := readMolecules(*molArg)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("SUCCESSFULLY READ IN", table.Len(), "MOLECULES ACROSS", table.NGenes(), "GENES")
	var cx, cy []float64
	if *centerArg != "" {
		cx, cy, err = readCenters(*centerArg)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println("USING", len(cx), "PRIOR CELL CENTERS")
	}
	results := molseg.RunFrames(table, cx, cy, cfg, seed)
	if err := writeAssignments(*outArg+".assignments.tsv", table, results); err != nil {
		log.Fatal(err)
	}
	for _, res := range results {
		if res.Err != nil {
			log.Println("frame failed:", res.Err)
			continue
		}
		fmt.Println("frame", res.Frame.ID, "molecules", res.Frame.Table.Len(), "cells", len(res.Data.Components))
	}
	if *compArg {
		if err := writeCompositions(*outArg+".compositions.tsv", results, *distNormArg, cfg.Workers); err != nil {
			log.Fatal(err)
		}
	}
}

//writeCompositions dumps each successful frame's per-molecule neighborhood
//gene composition rows.
func writeCompositions(path string, results []molseg.FrameResult, distNorm bool, workers int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		comp := molseg.NeighborhoodComposition(res.Data.Table, res.Data.Adjacency, distNorm, workers)
		rows, cols := comp.Dims()
		for r := 0; r < rows; r++ {
			if _, err := fmt.Fprintf(f, "%d\t%d", res.Frame.ID, res.Frame.Index[r]); err != nil {
				return err
			}
			for c := 0; c < cols; c++ {
				if _, err := fmt.Fprintf(f, "\t%g", comp.At(r, c)); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintln(f); err != nil {
				return err
			}
		}
	}
	return nil
}

func readMolecules(path string) (*molseg.MoleculeTable, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s: no molecule rows", path)
	}
	hasConf := len(rows[0]) > 3
	var x, y, conf []float64
	var labels []string
	for _, row := range rows[1:] {
		xv, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, err
		}
		yv, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, err
		}
		x = append(x, xv)
		y = append(y, yv)
		labels = append(labels, row[2])
		if hasConf {
			cv, err := strconv.ParseFloat(row[3], 64)
			if err != nil {
				return nil, err
			}
			conf = append(conf, cv)
		}
	}
	codes, names := molseg.EncodeGenes(labels)
	return molseg.NewMoleculeTable(x, y, codes, conf, names)
}

func readCenters(path string) (cx, cy []float64, err error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("%s: no center rows", path)
	}
	for _, row := range rows[1:] {
		xv, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, nil, err
		}
		yv, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, nil, err
		}
		cx = append(cx, xv)
		cy = append(cy, yv)
	}
	return cx, cy, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return csv.NewReader(f).ReadAll()
}

//writeAssignments dumps one row per molecule of the parent table: original
//row index, frame id and the cell label within the frame (0 = unassigned or
//filtered out).
func writeAssignments(path string, table *molseg.MoleculeTable, results []molseg.FrameResult) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	cell := make([]int, table.Len())
	frameOf := make([]int, table.Len())
	for i := range frameOf {
		frameOf[i] = -1
	}
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		for row, orig := range res.Frame.Index {
			cell[orig] = res.Data.Assignment[row]
			frameOf[orig] = res.Frame.ID
		}
	}
	if _, err := fmt.Fprintln(f, "molecule\tframe\tcell"); err != nil {
		return err
	}
	for i := range cell {
		if _, err := fmt.Fprintf(f, "%d\t%d\t%d\n", i, frameOf[i], cell[i]); err != nil {
			return err
		}
	}
	return nil
}
