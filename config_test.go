package molseg_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tomoseg/molseg"
)

func TestLoadConfigMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := molseg.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, molseg.DefaultConfig(), cfg)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	body := "n_cells_init: 42\nscale: 2.5\nfilter: false\nn_mads: 3\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := molseg.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 42, cfg.NCellsInit)
	require.Equal(t, 2.5, cfg.Scale)
	require.False(t, cfg.FilterEdges)
	require.Equal(t, 3., cfg.NMads)
	// Untouched keys keep their defaults.
	require.Equal(t, molseg.DefaultConfig().MinMoleculesPerCell, cfg.MinMoleculesPerCell)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("n_mads: -1\n"), 0o644))
	_, err := molseg.LoadConfig(path)
	var bad *molseg.InvalidConfigurationError
	require.ErrorAs(t, err, &bad)
}

func TestEncodeGenes(t *testing.T) {
	codes, names := molseg.EncodeGenes([]string{"b", "a", "b", "", "c", "a"})
	require.Equal(t, []int{1, 2, 1, 0, 3, 2}, codes)
	require.Equal(t, []string{"b", "a", "c"}, names)
}
