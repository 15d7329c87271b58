package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/evan-idocoding/peon/rt/task"
)

const sample = `
log:
  level: debug
  format: json
admin:
  enabled: true
  addr: 127.0.0.1:0
  read_tokens: [r1]
  write_tokens: [w1, w2]
journal:
  path: /tmp/peon-test.db
shutdown_timeout: 3s
tasks:
  import:
    blocking: category
    category: db
    workload: sleep
    steps: 4
    interval: 10ms
  report:
    category: db
    workload: sleep
starters:
  dbmenu: [import, report]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_File(t *testing.T) {
	cfg, err := NewLoader(writeConfig(t, sample)).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "stderr", cfg.Log.Output, "default kept")
	assert.True(t, cfg.Admin.Enabled)
	assert.Equal(t, []string{"w1", "w2"}, cfg.Admin.WriteTokens)
	assert.Equal(t, "X-Peon-Token", cfg.Admin.TokenHeader)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, 256, cfg.Journal.Buffer)

	require.Len(t, cfg.Tasks, 2)
	imp := cfg.Tasks["import"]
	assert.Equal(t, 10*time.Millisecond, imp.Interval)
	p, err := imp.Policy()
	require.NoError(t, err)
	assert.Equal(t, task.CategoryBlocking("db"), p)
	assert.Equal(t, []string{"import", "report"}, cfg.Starters["dbmenu"])
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PEON_LOG_LEVEL", "warn")
	t.Setenv("PEON_SHUTDOWN_TIMEOUT", "7s")

	cfg, err := NewLoader(writeConfig(t, sample)).Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 7*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_NoFile_Defaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())

	l := NewLoader("")
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "", l.File())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, DefaultTasks(), cfg.Tasks)
	assert.False(t, l.Watch(func(*Config, error) {}))
}

func TestLoad_ExplicitMissingFile_Error(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"bad blocking":     "tasks:\n  x: {blocking: global, workload: sleep}\n",
		"missing workload": "tasks:\n  x: {blocking: class}\n",
		"unknown starter":  "tasks:\n  x: {workload: sleep}\nstarters:\n  menu: [y]\n",
		"file output":      "log: {output: file}\n",
		"bad output":       "log: {output: syslog}\n",
		"zero timeout":     "shutdown_timeout: 0s\n",
	}
	for name, body := range cases {
		_, err := NewLoader(writeConfig(t, body)).Load()
		assert.Error(t, err, name)
	}
}

func TestDump_RoundTrip(t *testing.T) {
	t.Parallel()

	cfg, err := NewLoader(writeConfig(t, sample)).Load()
	require.NoError(t, err)

	out, err := Dump(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "shutdown_timeout: 3s")

	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, cfg.Tasks, back.Tasks)
	assert.Equal(t, cfg.Log, back.Log)
}

func TestDefaultTasks_Valid(t *testing.T) {
	t.Parallel()

	for name, tc := range DefaultTasks() {
		_, err := tc.Policy()
		assert.NoError(t, err, name)
		assert.NotEmpty(t, tc.Workload, name)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, sample)
	l := NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 4)
	require.True(t, l.Watch(func(c *Config, err error) {
		if err == nil {
			changed <- c
		}
	}))

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: error\n"), 0o600))
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changed:
			if c.Log.Level == "error" {
				return
			}
		case <-deadline:
			t.Fatalf("no reload observed")
		}
	}
}
