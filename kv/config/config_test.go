package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjustDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Parse(nil))

	assert.Equal(t, defaultStatusAddr, cfg.StatusAddr)
	assert.Equal(t, 16, cfg.Databases)
	assert.Equal(t, 10, cfg.Hz)
	assert.True(t, cfg.ActiveRehashing)
	assert.Equal(t, time.Millisecond, cfg.RehashBudget.Duration)
	assert.Equal(t, uint64(4), cfg.Dict.InitialSize)
	assert.Equal(t, uint64(5), cfg.Dict.ForceResizeRatio)
	assert.Equal(t, uint64(10), cfg.Dict.MinFillPercent)
	assert.Equal(t, FsyncEverySec, cfg.AppendOnly.Fsync)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 100*time.Millisecond, cfg.CronInterval())
	assert.Len(t, cfg.DictOptions(), 3)
}

func TestParseFileAndFlags(t *testing.T) {
	dir, err := ioutil.TempDir("", "tinyredis-config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "server.toml")
	content := `
databases = 4
hz = 50
active-rehashing = false
rehash-budget = "2ms"
unknown-item = 1

[append-only]
enabled = true
fsync = "always"
buffer-size = "1MiB"
`
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))

	cfg := NewConfig()
	require.NoError(t, cfg.Parse([]string{"--config", path, "--hz", "20", "-L", "debug"}))

	assert.Equal(t, path, cfg.ConfigFile())
	assert.Equal(t, 4, cfg.Databases)
	// Command line wins over the file.
	assert.Equal(t, 20, cfg.Hz)
	assert.False(t, cfg.ActiveRehashing)
	assert.Equal(t, 2*time.Millisecond, cfg.RehashBudget.Duration)
	assert.True(t, cfg.AppendOnly.Enabled)
	assert.Equal(t, FsyncAlways, cfg.AppendOnly.Fsync)
	assert.Equal(t, uint64(1<<20), uint64(cfg.AppendOnly.BufferSize))
	assert.Equal(t, "debug", cfg.Log.Level)
	require.Len(t, cfg.WarningMsgs, 1)
	assert.Contains(t, cfg.WarningMsgs[0], "unknown-item")
}

func TestParseRejectsArgs(t *testing.T) {
	cfg := NewConfig()
	err := cfg.Parse([]string{"stray"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'stray' is an invalid flag")
}

func TestValidate(t *testing.T) {
	cfg := NewTestConfig()
	cfg.AppendOnly.Fsync = "sometimes"
	assert.Error(t, cfg.Validate())

	cfg = NewTestConfig()
	cfg.HashSeed = "zz"
	assert.Error(t, cfg.Validate())

	cfg = NewTestConfig()
	cfg.Databases = -1
	assert.Error(t, cfg.Validate())

	cfg = &Config{Hz: 10000}
	require.NoError(t, cfg.Adjust(nil))
	assert.Equal(t, maxHz, cfg.Hz)
	assert.NotEmpty(t, cfg.WarningMsgs)
}

func TestSeed(t *testing.T) {
	cfg := NewTestConfig()
	seed, err := cfg.Seed()
	require.NoError(t, err)
	assert.Equal(t, cfg.HashSeed, seed.String())

	cfg.HashSeed = ""
	a, err := cfg.Seed()
	require.NoError(t, err)
	b, err := cfg.Seed()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPersist(t *testing.T) {
	dir, err := ioutil.TempDir("", "tinyredis-config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	cfg := NewTestConfig()
	cfg.Databases = 3
	cfg.AppendOnly.Fsync = FsyncNo
	path := filepath.Join(dir, "rewrite.toml")
	require.NoError(t, cfg.Persist(path))

	loaded := &Config{}
	meta, err := toml.DecodeFile(path, loaded)
	require.NoError(t, err)
	require.NoError(t, loaded.Adjust(&meta))
	assert.Equal(t, 3, loaded.Databases)
	assert.Equal(t, FsyncNo, loaded.AppendOnly.Fsync)
	assert.Equal(t, cfg.HashSeed, loaded.HashSeed)
	assert.Equal(t, cfg.RehashBudget, loaded.RehashBudget)
	assert.Empty(t, loaded.WarningMsgs)
}
