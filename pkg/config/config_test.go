package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/rpki-client/pkg/log"
)

func TestOutFormatHasChecksBitmask(t *testing.T) {
	mask := OutFormatCSV | OutFormatJSON
	assert.True(t, OutFormatCSV.Has(mask))
	assert.True(t, OutFormatJSON.Has(mask))
	assert.False(t, OutFormatBIRD2.Has(mask))
}

func TestValidateRejectsNoTALs(t *testing.T) {
	c := Default()
	c.CacheDir = t.TempDir()
	c.OutputDir = t.TempDir()
	err := c.Validate()
	require.Error(t, err)
}

func TestValidateRejectsMissingTALFile(t *testing.T) {
	c := Default()
	c.CacheDir = t.TempDir()
	c.OutputDir = t.TempDir()
	c.TALPaths = []string{filepath.Join(t.TempDir(), "missing.tal")}
	require.Error(t, c.Validate())
}

func TestValidateRejectsNonPositiveWorkers(t *testing.T) {
	dir := t.TempDir()
	talPath := filepath.Join(dir, "afrinic.tal")
	require.NoError(t, writeFile(talPath, "placeholder"))

	c := Default()
	c.CacheDir = t.TempDir()
	c.OutputDir = t.TempDir()
	c.TALPaths = []string{talPath}
	c.Workers = 0
	require.Error(t, c.Validate())
}

func TestValidatePassesWithWritableDirsAndTAL(t *testing.T) {
	dir := t.TempDir()
	talPath := filepath.Join(dir, "afrinic.tal")
	require.NoError(t, writeFile(talPath, "placeholder"))

	c := Default()
	c.CacheDir = t.TempDir()
	c.OutputDir = t.TempDir()
	c.TALPaths = []string{talPath}
	assert.NoError(t, c.Validate())
}

func TestLogConfigSelectsDebugWhenVerbose(t *testing.T) {
	c := Default()
	assert.Equal(t, log.InfoLevel, c.LogConfig().Level)

	c.Verbose = 1
	assert.Equal(t, log.DebugLevel, c.LogConfig().Level)
}

func TestLoadFileOverlaysOnlyMentionedFields(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "rpki-client.yaml")
	require.NoError(t, writeFile(cfgPath, "workers: 8\ndisableRRDP: true\n"))

	base := Default()
	merged, err := LoadFile(cfgPath, base)
	require.NoError(t, err)

	assert.Equal(t, 8, merged.Workers)
	assert.True(t, merged.DisableRRDP)
	assert.Equal(t, base.CacheDir, merged.CacheDir)
	assert.Equal(t, base.FetchTimeout, merged.FetchTimeout)
}

func TestLoadFileRejectsMissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), Default())
	require.Error(t, err)
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}
