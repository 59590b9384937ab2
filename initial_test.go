package molseg_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tomoseg/molseg"
)

//blobTable builds nBlobs well-separated Gaussian blobs of blobSize molecules
//each on a grid in a 100x100 square, with one dominant gene per blob.
func blobTable(t *testing.T, nBlobs, blobSize int, std float64, rnd *rand.Rand) (*molseg.MoleculeTable, []float64, []float64) {
	t.Helper()
	var cx, cy []float64
	for b := 0; b < nBlobs; b++ {
		cx = append(cx, float64(10+(b%5)*20))
		cy = append(cy, float64(25+(b/5)*50))
	}
	noise := distuv.Normal{Mu: 0, Sigma: std, Src: rnd}
	var x, y []float64
	var genes []int
	for b := 0; b < nBlobs; b++ {
		for i := 0; i < blobSize; i++ {
			x = append(x, cx[b]+noise.Rand())
			y = append(y, cy[b]+noise.Rand())
			if rnd.Float64() < 0.6 {
				genes = append(genes, 1+b%5)
			} else {
				genes = append(genes, 1+rnd.Intn(5))
			}
		}
	}
	table, err := molseg.NewMoleculeTable(x, y, genes, nil, []string{"g1", "g2", "g3", "g4", "g5"})
	require.NoError(t, err)
	return table, cx, cy
}

func TestEstimateInitialFromCenters(t *testing.T) {
	rnd := testRand()
	table, cx, cy := blobTable(t, 10, 100, 1.5, rnd)
	init, err := molseg.EstimateInitialFromCenters(table, cx, cy, 0)
	require.NoError(t, err)
	require.Equal(t, 10, init.NCenters())
	require.Len(t, init.Labels, table.Len())
	counts := make(map[int]int)
	for _, l := range init.Labels {
		require.Greater(t, l, 0)
		require.LessOrEqual(t, l, 10)
		counts[l]++
	}
	for c := 1; c <= 10; c++ {
		require.InDelta(t, 100, counts[c], 10, "blob sizes should be recovered up to sampling noise")
	}
	for c := 0; c < 10; c++ {
		require.InDelta(t, cx[c], init.MuX[c], 1.0)
		require.InDelta(t, cy[c], init.MuY[c], 1.0)
		require.Greater(t, init.Covs[c].At(0, 0), 0.)
		require.Greater(t, init.Covs[c].At(1, 1), 0.)
	}
}

func TestEstimateInitialFromCentersNoCenters(t *testing.T) {
	rnd := testRand()
	table := scatterTable(t, 20, rnd)
	_, err := molseg.EstimateInitialFromCenters(table, nil, nil, 0)
	var degen *molseg.DegenerateInputError
	require.ErrorAs(t, err, &degen)
}

func TestDegenerateClusterTakesMeanCovariance(t *testing.T) {
	// Center 1 gets a healthy blob, center 2 captures a single molecule.
	x := []float64{0, 1, 0, 1, 0.5, 50}
	y := []float64{0, 0, 1, 1, 0.5, 50}
	table, err := molseg.NewMoleculeTable(x, y, []int{1, 1, 1, 1, 1, 1}, nil, []string{"a"})
	require.NoError(t, err)
	init, err := molseg.EstimateInitialFromCenters(table, []float64{0.5, 50}, []float64{0.5, 50}, 0)
	require.NoError(t, err)
	require.Equal(t, 2, init.NCenters())
	// The singleton cluster's covariance is replaced by the mean valid one.
	require.InDelta(t, init.Covs[0].At(0, 0), init.Covs[1].At(0, 0), 1e-9)
	require.InDelta(t, init.Covs[0].At(1, 1), init.Covs[1].At(1, 1), 1e-9)
}

func TestFixedScaleOverridesCovariances(t *testing.T) {
	rnd := testRand()
	table, cx, cy := blobTable(t, 4, 50, 1.5, rnd)
	init, err := molseg.EstimateInitialFromCenters(table, cx, cy, 3)
	require.NoError(t, err)
	for _, cov := range init.Covs {
		require.Equal(t, 9., cov.At(0, 0))
		require.Equal(t, 9., cov.At(1, 1))
		require.Equal(t, 0., cov.At(0, 1))
	}
}

func TestClusteringCapsRequestedClusters(t *testing.T) {
	rnd := testRand()
	table := scatterTable(t, 30, rnd)
	// 1000 clusters over 30 molecules with 5 molecules per cell budget must
	// silently cap at 6, never error.
	init, err := molseg.EstimateInitialFromClustering(table, 1000, 5, 0, rnd)
	require.NoError(t, err)
	require.LessOrEqual(t, init.NCenters(), 6)
	require.GreaterOrEqual(t, init.NCenters(), 1)
	for _, l := range init.Labels {
		require.Greater(t, l, 0)
		require.LessOrEqual(t, l, init.NCenters())
	}
}

func TestClusteringRecoversBlobs(t *testing.T) {
	rnd := testRand()
	table, _, _ := blobTable(t, 4, 80, 1.0, rnd)
	init, err := molseg.EstimateInitialFromClustering(table, 4, 3, 0, rnd)
	require.NoError(t, err)
	require.Equal(t, 4, init.NCenters())
	counts := make(map[int]int)
	for _, l := range init.Labels {
		counts[l]++
	}
	for c := 1; c <= 4; c++ {
		require.Greater(t, counts[c], 0, "every medoid cluster should hold molecules")
	}
}
