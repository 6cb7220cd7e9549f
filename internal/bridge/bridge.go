// Package bridge serves file-access policy decisions to platform
// interception shims over a local unix socket. The shim (the component
// that actually subscribes to OS events) sends one JSON request per
// line and reads one JSON response back; the daemon side stays platform
// independent.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/wardenlabs/warden/pkg/engine"
	"github.com/wardenlabs/warden/pkg/policy"
)

// Request is one intercepted access, as sent by the interception shim.
type Request struct {
	Path      string `json:"path"`
	Operation string `json:"operation"` // "read" or "write"
	PID       int    `json:"pid"`

	Process struct {
		BinaryPath     string `json:"binary_path"`
		SigningID      string `json:"signing_id,omitempty"`
		TeamID         string `json:"team_id,omitempty"`
		CDHash         string `json:"cdhash,omitempty"`
		CertSHA256     string `json:"cert_sha256,omitempty"`
		PlatformBinary bool   `json:"platform_binary,omitempty"`
		ExecutableDev  uint64 `json:"executable_dev,omitempty"`
		ExecutableIno  uint64 `json:"executable_ino,omitempty"`
	} `json:"process"`
}

// Response is the verdict returned to the shim.
type Response struct {
	Allow     bool   `json:"allow"`
	Rule      string `json:"rule,omitempty"`
	AuditOnly bool   `json:"audit_only,omitempty"`
	Silent    bool   `json:"silent,omitempty"`
	Message   string `json:"message,omitempty"`
	DetailURL string `json:"detail_url,omitempty"`
}

// Server accepts shim connections and evaluates their requests.
type Server struct {
	engine   *engine.Engine
	logger   *slog.Logger
	listener net.Listener

	mu     sync.Mutex
	closed bool
}

// Listen binds the unix socket at path, removing a stale socket file
// left by a previous run.
func Listen(path string, eng *engine.Engine, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	return &Server{engine: eng, logger: logger, listener: l}, nil
}

// Serve accepts connections until the context is cancelled or Close is
// called. Each connection gets its own goroutine; a malformed request
// closes only that connection.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			s.logger.Warn("malformed bridge request", "error", err)
			return
		}

		resp := s.evaluate(req)
		if err := enc.Encode(resp); err != nil {
			s.logger.Warn("bridge response write failed", "error", err)
			return
		}
	}
}

func (s *Server) evaluate(req Request) Response {
	d := s.engine.Evaluate(engine.Event{
		TargetPath:  req.Path,
		WriteAccess: req.Operation != "read",
		Instigator: policy.ProcessIdentity{
			Pid:               req.PID,
			BinaryPath:        req.Process.BinaryPath,
			SigningID:         req.Process.SigningID,
			TeamID:            req.Process.TeamID,
			CDHash:            req.Process.CDHash,
			CertificateSHA256: req.Process.CertSHA256,
			PlatformBinary:    req.Process.PlatformBinary,
			Executable: policy.FileID{
				Dev: req.Process.ExecutableDev,
				Ino: req.Process.ExecutableIno,
			},
		},
	})

	return Response{
		Allow:     d.Allowed,
		Rule:      d.PolicyName,
		AuditOnly: d.AuditOnly,
		Silent:    d.Silent,
		Message:   d.CustomMessage,
		DetailURL: d.EventDetailURL,
	}
}

// Addr returns the socket address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops accepting connections and closes the socket.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.listener.Close()
}
