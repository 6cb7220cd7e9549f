package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/pkg/engine"
	"github.com/wardenlabs/warden/pkg/policy"
)

func boolPtr(b bool) *bool { return &b }

func startServer(t *testing.T) (*Server, net.Conn) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := policy.NewStore(logger)
	snap, err := store.Rebuild(&policy.Config{
		Version: "1",
		WatchItems: []policy.WatchItem{{
			Name:  "usr-bin",
			Paths: []policy.WatchPath{{Path: "/usr/bin", IsPrefix: true}},
			Options: policy.WatchOptions{
				RuleType:      "paths_with_denied_processes",
				AuditOnly:     boolPtr(false),
				CustomMessage: "blocked",
			},
			Processes: []policy.ProcessPatternSpec{{BinaryPath: "/bin/bad"}},
		}},
	})
	require.NoError(t, err)
	store.Install(snap, "test")

	eng := engine.New(engine.Config{Store: store, Logger: logger})

	sockPath := filepath.Join(t.TempDir(), "warden.sock")
	srv, err := Listen(sockPath, eng, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return srv, conn
}

func roundTrip(t *testing.T, conn net.Conn, req Request) Response {
	t.Helper()

	line, err := json.Marshal(req)
	require.NoError(t, err)
	line = append(line, '\n')
	_, err = conn.Write(line)
	require.NoError(t, err)

	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan(), "expected a response line: %v", scanner.Err())
	var resp Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	return resp
}

func TestDeniedRequest(t *testing.T) {
	t.Parallel()

	_, conn := startServer(t)

	req := Request{Path: "/usr/bin/tool", Operation: "write", PID: 7}
	req.Process.BinaryPath = "/bin/bad"
	resp := roundTrip(t, conn, req)

	assert.False(t, resp.Allow)
	assert.Equal(t, "usr-bin", resp.Rule)
	assert.Equal(t, "blocked", resp.Message)
}

func TestAllowedRequest(t *testing.T) {
	t.Parallel()

	_, conn := startServer(t)

	req := Request{Path: "/usr/bin/tool", Operation: "write", PID: 7}
	req.Process.BinaryPath = "/bin/good"
	resp := roundTrip(t, conn, req)
	assert.True(t, resp.Allow)
	assert.Equal(t, "usr-bin", resp.Rule)

	req = Request{Path: "/home/alice/file", Operation: "write", PID: 7}
	req.Process.BinaryPath = "/bin/bad"
	resp = roundTrip(t, conn, req)
	assert.True(t, resp.Allow)
	assert.Empty(t, resp.Rule)
}

func TestMultipleRequestsPerConnection(t *testing.T) {
	t.Parallel()

	_, conn := startServer(t)
	scanner := bufio.NewScanner(conn)

	for i := 0; i < 3; i++ {
		req := Request{Path: "/usr/bin/x", Operation: "write", PID: i}
		req.Process.BinaryPath = "/bin/bad"
		line, err := json.Marshal(req)
		require.NoError(t, err)
		_, err = conn.Write(append(line, '\n'))
		require.NoError(t, err)

		require.True(t, scanner.Scan())
		var resp Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		assert.False(t, resp.Allow)
	}
}

func TestMalformedRequestClosesConnection(t *testing.T) {
	t.Parallel()

	_, conn := startServer(t)
	_, err := conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	scanner := bufio.NewScanner(conn)
	assert.False(t, scanner.Scan(), "the connection is dropped without a response")
}

func TestStaleSocketRemoved(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	store := policy.NewStore(logger)
	eng := engine.New(engine.Config{Store: store, Logger: logger})

	sockPath := filepath.Join(t.TempDir(), "warden.sock")
	srv, err := Listen(sockPath, eng, logger)
	require.NoError(t, err)
	require.NoError(t, srv.Close())

	// The socket file left behind must not block the next bind.
	srv, err = Listen(sockPath, eng, logger)
	require.NoError(t, err)
	srv.Close()
}
