package aurora

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCache_StatusAndClean(t *testing.T) {
	dir := t.TempDir()

	c, err := OpenCache(dir)
	require.NoError(t, err)

	status, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, 0, status.EntryCount)
	assert.Equal(t, int64(0), status.TotalBytes)

	bf := NewBeamfile()
	bf.Beams["build"] = &Beam{Name: "build", Run: DefaultRunBlock("echo built")}
	bf.DefaultBeam = "build"

	opts := DefaultRunOptions()
	opts.WorkingDir = dir
	opts.CacheEnabled = true
	opts.CacheDir = dir + "/.aurora/cache"

	run, err := NewRun(context.Background(), bf, "", opts)
	require.NoError(t, err)
	_, err = run.Execute(context.Background())
	require.NoError(t, err)
	require.NoError(t, run.Close(context.Background()))

	status, err = c.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, status.EntryCount)
	assert.Greater(t, status.TotalBytes, int64(0))

	require.NoError(t, c.Clean())

	status, err = c.Status()
	require.NoError(t, err)
	assert.Equal(t, 0, status.EntryCount)
}
