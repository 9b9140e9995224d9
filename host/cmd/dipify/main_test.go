package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltastage/stage/config"
)

func TestRunRewritesFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "part.gcode")
	out := filepath.Join(dir, "part.dip.gcode")

	src := strings.Join([]string{
		";Z:0",
		"G0 X0 Y0 Z5",
		"G1 X20 Y0 Z0 A1.5",
		"M104 S200",
		";*END",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(in, []byte(src), 0o644))

	cfg := config.DefaultSegmenterConfig()
	require.NoError(t, run(cfg, in, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, "; Z:0\n")
	assert.Contains(t, text, "G1 X10.000 Y0.000 F2400.000\n")
	assert.Contains(t, text, "G1 X20.000 Y0.000 F2400.000\n")
	assert.Contains(t, text, "; end of job\n")
	assert.NotContains(t, text, "M104")
	assert.NotContains(t, text, "A1.5")
}

func TestRunWritesPreview(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "part.gcode")
	out := filepath.Join(dir, "part.dip.gcode")
	png := filepath.Join(dir, "touches.png")
	require.NoError(t, os.WriteFile(in, []byte("G1 X0 Y0 Z0\nG1 X30 Y0 Z0\n"), 0o644))

	*previewPath = png
	t.Cleanup(func() { *previewPath = "" })

	require.NoError(t, run(config.DefaultSegmenterConfig(), in, out))

	info, err := os.Stat(png)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestRunMissingInput(t *testing.T) {
	err := run(config.DefaultSegmenterConfig(), filepath.Join(t.TempDir(), "missing.gcode"), "")
	assert.Error(t, err)
}
