package serve

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/asbbridge/pkg/config"
	"github.com/tinyland-inc/asbbridge/pkg/logger"
)

func TestNewServeCommand(t *testing.T) {
	cmd := NewServeCommand()

	require.NotNil(t, cmd)

	assert.Equal(t, "serve", cmd.Use)
	assert.Equal(t, "Run the asbplayer WebSocket bridge", cmd.Short)
	assert.Equal(t, []string{"s"}, cmd.Aliases)

	assert.True(t, cmd.HasExample())
	assert.False(t, cmd.HasSubCommands())
	assert.True(t, cmd.SilenceUsage)

	assert.Nil(t, cmd.Run)
	assert.NotNil(t, cmd.RunE)

	assert.NotNil(t, cmd.Flags().Lookup("host"))
	assert.NotNil(t, cmd.Flags().Lookup("port"))
	assert.NotNil(t, cmd.Flags().Lookup("config"))
	assert.NotNil(t, cmd.Flags().Lookup("env-file"))

	debug := cmd.Flags().Lookup("debug")
	require.NotNil(t, debug)
	assert.Equal(t, "d", debug.Shorthand)
}

func newFlagCommand(t *testing.T, args ...string) (*cobra.Command, *Options) {
	t.Helper()
	var opts Options
	cmd := &cobra.Command{Use: "test"}
	BindFlags(cmd, &opts)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, &opts
}

func restoreLogger(t *testing.T) {
	t.Cleanup(func() {
		_ = logger.Configure(logger.Options{Level: logger.INFO})
	})
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	restoreLogger(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nhost = \"0.0.0.0\"\nport = 9001\n"), 0o600))

	cmd, opts := newFlagCommand(t, "--config", path, "--port", "9100", "-d")
	cfg, err := loadConfig(cmd, opts)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unchanged flag keeps file value")
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, logger.DEBUG, logger.GetLevel())
}

func TestLoadConfig_EnvFile(t *testing.T) {
	restoreLogger(t)
	t.Setenv("ASBBRIDGE_SERVER_PORT", "")
	require.NoError(t, os.Unsetenv("ASBBRIDGE_SERVER_PORT"))

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("ASBBRIDGE_SERVER_PORT=9200\n"), 0o600))

	cmd, opts := newFlagCommand(t, "--config", filepath.Join(dir, "missing.json"), "--env-file", envFile)
	cfg, err := loadConfig(cmd, opts)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
}

func TestLoadConfig_InvalidFlag(t *testing.T) {
	restoreLogger(t)
	cmd, opts := newFlagCommand(t, "--config", filepath.Join(t.TempDir(), "missing.json"), "--port", "70000")
	_, err := loadConfig(cmd, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoadConfig_MissingEnvFile(t *testing.T) {
	restoreLogger(t)
	cmd, opts := newFlagCommand(t, "--env-file", filepath.Join(t.TempDir(), "nope.env"))
	_, err := loadConfig(cmd, opts)
	require.Error(t, err)
}

// lineWriter hands out stdout lines as they are written.
type lineWriter struct {
	mu      sync.Mutex
	partial []byte
	lines   chan string
}

func newLineWriter() *lineWriter {
	return &lineWriter{lines: make(chan string, 64)}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.partial = append(w.partial, p...)
	for {
		idx := bytes.IndexByte(w.partial, '\n')
		if idx < 0 {
			return len(p), nil
		}
		w.lines <- string(w.partial[:idx])
		w.partial = w.partial[idx+1:]
	}
}

func (w *lineWriter) next(t *testing.T) map[string]string {
	t.Helper()
	select {
	case line := <-w.lines:
		var evt map[string]string
		require.NoError(t, json.Unmarshal([]byte(line), &evt), line)
		return evt
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

type bridgeRun struct {
	stdin   *io.PipeWriter
	stdout  *lineWriter
	signals chan os.Signal
	done    chan error
}

func startServe(t *testing.T, cfg *config.Config) *bridgeRun {
	t.Helper()
	stdinR, stdinW := io.Pipe()
	t.Cleanup(func() { stdinW.Close() })

	run := &bridgeRun{
		stdin:   stdinW,
		stdout:  newLineWriter(),
		signals: make(chan os.Signal, 1),
		done:    make(chan error, 1),
	}
	go func() {
		run.done <- serve(cfg, stdinR, run.stdout, run.signals)
	}()
	return run
}

func (r *bridgeRun) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
		return nil
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Port = 0
	cfg.Dispatch.PollIntervalMS = 50
	return cfg
}

func TestServe_ReadyThenInterrupt(t *testing.T) {
	run := startServe(t, testConfig())

	ready := run.stdout.next(t)
	assert.Equal(t, "asbplayer_server_ready", ready["type"])
	assert.Regexp(t, `^ws://127\.0\.0\.1:\d+/ws$`, ready["url"])

	run.signals <- os.Interrupt
	require.NoError(t, run.wait(t))
	assert.Equal(t, map[string]string{
		"type":   "asbplayer_server_shutdown",
		"reason": "keyboard_interrupt",
	}, run.stdout.next(t))
}

func TestServe_Terminate(t *testing.T) {
	run := startServe(t, testConfig())
	run.stdout.next(t)

	run.signals <- syscall.SIGTERM
	require.NoError(t, run.wait(t))
	assert.Equal(t, "terminated", run.stdout.next(t)["reason"])
}

func TestServe_RelaysBetweenStdioAndPeer(t *testing.T) {
	run := startServe(t, testConfig())
	url := run.stdout.next(t)["url"]

	// Commands written before the peer connects are held.
	_, err := io.WriteString(run.stdin, "{\"command\":\"pause\"}\nnot json\n")
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	connected := run.stdout.next(t)
	assert.Equal(t, "asbplayer_connected", connected["type"])
	assert.Equal(t, conn.LocalAddr().String(), connected["client"])

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"command":"pause"}`, string(data))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"ok":true}`)))
	select {
	case line := <-run.stdout.lines:
		assert.Equal(t, `{"type":"asbplayer_response","data":{"ok":true}}`, line)
	case <-time.After(5 * time.Second):
		t.Fatal("no response event")
	}

	run.signals <- os.Interrupt
	require.NoError(t, run.wait(t))
	assert.Equal(t, "asbplayer_disconnected", run.stdout.next(t)["type"])
	assert.Equal(t, "asbplayer_server_shutdown", run.stdout.next(t)["type"])
}

func TestServe_BindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	cfg := testConfig()
	cfg.Server.Port = occupied.Addr().(*net.TCPAddr).Port

	run := startServe(t, cfg)
	require.Error(t, run.wait(t))

	evt := run.stdout.next(t)
	assert.Equal(t, "asbplayer_server_error", evt["type"])
	assert.Contains(t, evt["error"], strconv.Itoa(cfg.Server.Port))

	select {
	case line := <-run.stdout.lines:
		t.Fatalf("unexpected event after bind failure: %s", line)
	default:
	}
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestServe_EventChannelFailure(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	defer stdinW.Close()

	err := serve(testConfig(), stdinR, brokenWriter{}, make(chan os.Signal))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}
