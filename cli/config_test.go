package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	assertion "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagedb"
)

func TestLoadConfig(t *testing.T) {
	assert := assertion.New(t)
	path := filepath.Join(t.TempDir(), "pagedb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
root: /var/lib/pagedb
page_size: 1024
strict_mode: true
compression: lz4
log:
  level: debug
  format: json
`), 0644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal("/var/lib/pagedb", cfg.Root)
	assert.Equal(1024, cfg.PageSize)
	assert.Equal(pagedb.DefaultBufferSize, cfg.BufferSize)
	assert.True(cfg.StrictMode)
	assert.Equal("debug", cfg.Log.Level)
	assert.Equal(3, cfg.Log.MaxBackups)

	opts, err := cfg.options(nil)
	require.NoError(t, err)
	assert.Equal(pagedb.CompLz4, opts.Compression)
	assert.True(opts.StrictMode)

	cfg, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NoError(err)
	assert.Equal(defaultConfig(), cfg)

	require.NoError(t, os.WriteFile(path, []byte("page_size: [1"), 0644))
	_, err = loadConfig(path)
	assert.Error(err)
}

func TestConfigBadCompression(t *testing.T) {
	cfg := defaultConfig()
	cfg.Compression = "zip"
	_, err := cfg.options(nil)
	assertion.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	assert := assertion.New(t)
	defer log.SetOutput(os.Stderr)

	var buf bytes.Buffer
	logger, err := newLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.WithField("page", 3).Warn("shown")
	assert.NotContains(buf.String(), "hidden")
	assert.Contains(buf.String(), `"page":3`)

	_, err = newLogger(LogConfig{Level: "loud"}, &buf)
	assert.Error(err)

	file := filepath.Join(t.TempDir(), "pagedb.log")
	logger, err = newLogger(LogConfig{Level: "info", File: file, MaxSize: 1}, &buf)
	require.NoError(t, err)
	logger.Info("to file")
	data, err := os.ReadFile(file)
	assert.NoError(err)
	assert.Contains(string(data), "to file")
}

func TestRootCommandFlags(t *testing.T) {
	assert := assertion.New(t)
	defer log.SetOutput(os.Stderr)
	root := filepath.Join(t.TempDir(), "db")

	var out, stderr bytes.Buffer
	cmd := newRootCmd(bytes.NewBufferString("create table t id:integer:pk\ninsert t 7\nselect t\n"), &out, &stderr)
	cmd.SetArgs([]string{"shell", "--prompt=false", "--root", root, "--page-size", "256", "--log-level", "error"})
	require.NoError(t, cmd.Execute())
	assert.Contains(out.String(), "7\n(1 rows)\n")

	// the stored page size survives a different flag
	cmd = newRootCmd(bytes.NewBufferString("stats\n"), &out, &stderr)
	cmd.SetArgs([]string{"shell", "--prompt=false", "--root", root, "--page-size", "4096", "--log-level", "error"})
	require.NoError(t, cmd.Execute())
	assert.Contains(out.String(), "page size 256,")
}

func TestRootCommandCorruptMeta(t *testing.T) {
	defer log.SetOutput(os.Stderr)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "pagedb.meta"), []byte("garbage"), 0644))

	var out, stderr bytes.Buffer
	cmd := newRootCmd(bytes.NewBufferString(""), &out, &stderr)
	cmd.SetArgs([]string{"--root", root, "--log-level", "error"})
	assertion.ErrorIs(t, cmd.Execute(), pagedb.ErrCorruptMeta)
}

func TestRunBench(t *testing.T) {
	assert := assertion.New(t)
	opts := &pagedb.Options{PageSize: 256, BufferSize: 4, Logger: quietLogger()}
	results, err := runBench(t.TempDir(), opts, 3, 200, 1)
	require.NoError(t, err)
	assert.Len(results, 3)
	for i, r := range results {
		assert.Equal(i, r.worker)
		assert.Equal(200, r.records)
		assert.Greater(r.pages, 1)
	}

	_, err = runBench(t.TempDir(), opts, 0, 10, 1)
	assert.Error(err)
}
