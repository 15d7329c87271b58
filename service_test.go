package peon

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evan-idocoding/peon/internal/config"
	"github.com/evan-idocoding/peon/internal/journal"
	"github.com/evan-idocoding/peon/rt/task"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

const (
	readToken  = "r-token"
	writeToken = "w-token"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Log: config.LogConfig{Level: "info", Format: "text", Output: "stderr"},
		Admin: config.AdminConfig{
			Enabled:     true,
			Addr:        "127.0.0.1:0",
			TokenHeader: "X-Peon-Token",
			ReadTokens:  []string{readToken},
			WriteTokens: []string{writeToken},
		},
		Journal: config.JournalConfig{
			Enabled: true,
			Path:    filepath.Join(t.TempDir(), "peon.db"),
			Buffer:  16,
		},
		ShutdownTimeout: 5 * time.Second,
		Tasks: map[string]config.TaskConfig{
			"quick": {Workload: "sleep", Steps: 2},
			"slow":  {Workload: "sleep", Steps: 1000, Interval: 10 * time.Millisecond, Blocking: "application"},
		},
	}
}

func newTestService(t *testing.T, cfg *config.Config, hooks Hooks) (*Service, *logtest.Hook) {
	t.Helper()
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	svc, err := NewService(Spec{
		Config:  cfg,
		Logger:  log,
		Signals: SignalSpec{Disable: true},
		Hooks:   hooks,
	})
	require.NoError(t, err)
	return svc, hook
}

func do(t *testing.T, svc *Service, method, path, token string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, "http://"+svc.AdminAddr().String()+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("X-Peon-Token", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func recent(t *testing.T, path string) []journal.Record {
	t.Helper()
	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()
	recs, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	return recs
}

func TestNewService_Errors(t *testing.T) {
	_, err := NewService(Spec{})
	require.Error(t, err)

	cases := []struct {
		name   string
		mutate func(*config.Config)
		logger bool
		want   string
	}{
		{"unknown workload", func(c *config.Config) {
			c.Tasks = map[string]config.TaskConfig{"x": {Workload: "nope"}}
		}, true, "unknown workload"},
		{"bad log level", func(c *config.Config) { c.Log.Level = "loud" }, false, "logger"},
		{"journal unopenable", func(c *config.Config) {
			c.Journal.Path = filepath.Join(t.TempDir(), "missing", "dir", "peon.db")
		}, true, "journal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(cfg)
			spec := Spec{Config: cfg}
			if tc.logger {
				spec.Logger, _ = logtest.NewNullLogger()
			}

			var (
				svc *Service
				err error
			)
			require.NotPanics(t, func() { svc, err = NewService(spec) })
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestNewService_ErrorLeavesNoJournal(t *testing.T) {
	cfg := testConfig(t)
	good := cfg.Tasks
	cfg.Tasks = map[string]config.TaskConfig{"x": {Workload: "nope"}}
	log, _ := logtest.NewNullLogger()

	_, err := NewService(Spec{Config: cfg, Logger: log})
	require.Error(t, err)
	_, statErr := os.Stat(cfg.Journal.Path)
	assert.True(t, os.IsNotExist(statErr), "journal file created on a failed assembly")

	cfg.Tasks = good
	svc, err := NewService(Spec{Config: cfg, Logger: log})
	require.NoError(t, err)
	require.NoError(t, svc.Shutdown(context.Background()))
}

func TestService_AdminEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newTestService(t, cfg, Hooks{})
	require.NoError(t, svc.Start(context.Background()))
	require.NotNil(t, svc.AdminAddr())

	code, body := do(t, svc, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)

	code, _ = do(t, svc, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, svc, http.MethodGet, "/tasks/types", "")
	assert.Equal(t, http.StatusForbidden, code)

	code, body = do(t, svc, http.MethodGet, "/tasks/types", readToken)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "type\tslow\tblocking\tapplication\n")

	// write tokens also read
	code, _ = do(t, svc, http.MethodGet, "/tasks/snapshot", writeToken)
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, svc, http.MethodPost, "/tasks/submit?type=quick", readToken)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = do(t, svc, http.MethodPost, "/tasks/submit?type=quick&name=first", writeToken)
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body, "\tsubmitted\ttrue\n")

	require.Eventually(t, func() bool {
		infos, err := svc.Orchestrator.Snapshot(context.Background())
		return err == nil && len(infos) == 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.Journal.Flush(context.Background()))
	code, body = do(t, svc, http.MethodGet, "/history", readToken)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "\tname\tfirst\n")

	require.NoError(t, svc.Shutdown(context.Background()))
	require.NoError(t, svc.Wait())

	recs := recent(t, cfg.Journal.Path)
	require.Len(t, recs, 1)
	assert.Equal(t, "quick", recs[0].Type)
	assert.Equal(t, "finished", recs[0].State)
	assert.Equal(t, 2, recs[0].Progress)
}

func TestService_ShutdownCancelsActiveTasks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admin.Enabled = false
	svc, hook := newTestService(t, cfg, Hooks{})
	require.NoError(t, svc.Start(context.Background()))
	assert.Nil(t, svc.AdminAddr())

	tk, err := svc.Orchestrator.DispatchType(context.Background(), "slow")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tk.State() == task.StateActive }, 5*time.Second, 5*time.Millisecond)

	_, err = svc.Orchestrator.DispatchType(context.Background(), "quick")
	require.ErrorIs(t, err, task.ErrConcurrency)

	require.NoError(t, svc.Shutdown(context.Background()))
	assert.Equal(t, task.StateCancelled, tk.State())
	assert.True(t, svc.Orchestrator.Closed())

	recs := recent(t, cfg.Journal.Path)
	require.Len(t, recs, 1)
	assert.Equal(t, "cancelled", recs[0].State)

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "peon: stopped", last.Message)
}

func TestService_StartTwiceAndWaitBeforeStart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admin.Enabled = false
	svc, _ := newTestService(t, cfg, Hooks{})

	require.ErrorIs(t, svc.Wait(), ErrNotStarted)
	require.NoError(t, svc.Start(context.Background()))
	require.ErrorIs(t, svc.Start(context.Background()), ErrAlreadyStarted)
	require.ErrorIs(t, svc.Run(context.Background()), ErrAlreadyStarted)

	require.NoError(t, svc.Shutdown(context.Background()))
	// idempotent
	require.NoError(t, svc.Shutdown(context.Background()))
}

func TestService_ShutdownBeforeStart(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newTestService(t, cfg, Hooks{})

	require.NoError(t, svc.Shutdown(context.Background()))
	assert.True(t, svc.Orchestrator.Closed())
	require.ErrorIs(t, svc.Journal.Flush(context.Background()), journal.ErrClosed)
}

func TestService_OnStartHookError(t *testing.T) {
	cfg := testConfig(t)
	boom := errors.New("boom")
	var shutdownRan bool
	svc, _ := newTestService(t, cfg, Hooks{
		OnStart:    []func(context.Context) error{func(context.Context) error { return boom }},
		OnShutdown: []func(context.Context) error{func(context.Context) error { shutdownRan = true; return nil }},
	})

	err := svc.Start(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "OnStart[0]")
	assert.Nil(t, svc.AdminAddr())

	require.ErrorIs(t, svc.Wait(), boom)
	assert.True(t, shutdownRan)
}

func TestService_HookPanicsAreErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admin.Enabled = false
	svc, _ := newTestService(t, cfg, Hooks{
		OnShutdown: []func(context.Context) error{func(context.Context) error { panic("nope") }},
	})
	require.NoError(t, svc.Start(context.Background()))

	err := svc.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OnShutdown[0]: panic: nope")
	require.Error(t, svc.Wait())
}

func TestService_RunStopsOnContext(t *testing.T) {
	cfg := testConfig(t)
	svc, hook := newTestService(t, cfg, Hooks{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return svc.AdminAddr() != nil }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	var sawCtx bool
	for _, e := range hook.AllEntries() {
		if e.Message == "peon: context done, shutting down" {
			sawCtx = true
		}
	}
	assert.True(t, sawCtx)
}

func TestService_ApplyConfig(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newTestService(t, cfg, Hooks{})
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	next := *cfg
	next.Log.Level = "warn"
	next.Admin.ReadTokens = nil
	next.Admin.WriteTokens = []string{"rotated"}
	require.NoError(t, svc.ApplyConfig(&next))

	assert.Equal(t, logrus.WarnLevel, svc.Logger.GetLevel())

	code, _ := do(t, svc, http.MethodGet, "/log/level", readToken)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = do(t, svc, http.MethodPost, "/log/level/set?level=debug", writeToken)
	assert.Equal(t, http.StatusForbidden, code)

	code, body := do(t, svc, http.MethodPost, "/log/level/set?level=debug", "rotated")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(body, "log\tnew_level\tdebug\n"), body)

	bad := next
	bad.Log.Level = "loud"
	require.Error(t, svc.ApplyConfig(&bad))
	require.Error(t, svc.ApplyConfig(nil))
}
