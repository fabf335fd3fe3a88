package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/dashai/internal/agent"
	"github.com/wesm/dashai/internal/config"
	"github.com/wesm/dashai/internal/dbtest"
	"github.com/wesm/dashai/internal/server"
	"github.com/wesm/dashai/internal/tools"
)

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantHost string
		wantPort int
		wantDB   string
	}{
		{
			name:     "DefaultArgs",
			args:     []string{},
			wantHost: "127.0.0.1",
			wantPort: 8000,
		},
		{
			name:     "ExplicitFlags",
			args:     []string{"-host", "0.0.0.0", "-port", "9090", "-db", "/srv/app.db"},
			wantHost: "0.0.0.0",
			wantPort: 9090,
			wantDB:   "/srv/app.db",
		},
		{
			name:     "PartialFlags",
			args:     []string{"-port", "3000"},
			wantHost: "127.0.0.1",
			wantPort: 3000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			cfg, err := loadConfig(tt.args)
			require.NoError(t, err)

			assert.Equal(t, tt.wantHost, cfg.Server.Host)
			assert.Equal(t, tt.wantPort, cfg.Server.Port)
			if tt.wantDB != "" {
				assert.Equal(t, tt.wantDB, cfg.Database.Path)
			} else {
				assert.Equal(t, "app.db", filepath.Base(cfg.Database.Path))
			}
		})
	}
}

func TestLoadConfigRejects(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, args := range [][]string{
		{"extra"},
		{"-port", "0"},
		{"-log-level", "chatty"},
		{"-no-such-flag"},
	} {
		_, err := loadConfig(args)
		assert.Error(t, err, "args %v", args)
	}
}

func TestLogConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "console"

	lc := logConfig(cfg)
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "console", lc.Format)
	assert.True(t, lc.Timestamp)
}

func TestNewRuntime(t *testing.T) {
	tb := tools.NewRegistry(dbtest.Create(t, dbtest.Sample()))

	tests := []struct {
		name        string
		command     string
		wantBreaker bool
	}{
		{"empty command", "", false},
		{"missing binary", "definitely-not-an-agent-binary --flag", false},
		{"unbalanced quotes", `python "agent.py`, false},
		{"available binary", "sh -c 'exit 0'", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Agent.Command = tt.command
			rt := newRuntime(cfg, tb)

			_, isBreaker := rt.(*agent.Breaker)
			assert.Equal(t, tt.wantBreaker, isBreaker)
			if !tt.wantBreaker {
				_, err := rt.Run(context.Background(), agent.Task{}, nil)
				assert.ErrorIs(t, err, agent.ErrAgentUnavailable)
			}
		})
	}
}

func TestStartDBWatcherMissingDir(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "gone", "app.db")
	srv := server.New(cfg, dbtest.Create(t, dbtest.Sample()))

	stop := startDBWatcher(cfg, srv)
	require.NotNil(t, stop)
	stop()
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	srv := server.New(cfg, dbtest.Create(t, dbtest.Sample()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- serve(ctx, srv) }()

	addr := cfg.Addr()
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond, "server never listened")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServePortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := config.Default()
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port
	srv := server.New(cfg, dbtest.Create(t, dbtest.Sample()))

	assert.Error(t, serve(context.Background(), srv))
}
