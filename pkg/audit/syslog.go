package audit

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

const (
	reconnectBackoffInit = 100 * time.Millisecond
	reconnectBackoffMax  = 30 * time.Second
)

// sdID is the structured-data element ID for events emitted by this
// daemon.
const sdID = "warden"

// SyslogEmitter writes audit events to the local syslog daemon as RFC
// 5424 messages with structured data.
//
// On write failure the emitter attempts to reconnect to the syslog socket
// with exponential backoff (100ms initial, 30s cap). This handles
// transient syslog restarts without tight-looping.
type SyslogEmitter struct {
	conn       net.Conn
	hostname   string
	appName    string
	facility   Facility
	socketPath string

	mu              sync.Mutex
	backoff         time.Duration
	lastReconnectAt time.Time
}

// SyslogConfig holds configuration for the syslog writer.
type SyslogConfig struct {
	SocketPath string   // Default: "/dev/log"
	Hostname   string   // Default: os.Hostname()
	AppName    string   // Default: "wardend"
	Facility   Facility // Default: FacLocal0
}

// NewSyslogEmitter creates a SyslogEmitter writing to the local syslog
// daemon. Returns an error if the syslog socket is unavailable; callers
// should degrade gracefully (slog-only audit is acceptable).
func NewSyslogEmitter(cfg SyslogConfig) (*SyslogEmitter, error) {
	if cfg.SocketPath == "" {
		cfg.SocketPath = "/dev/log"
	}
	if cfg.Hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			cfg.Hostname = "unknown"
		} else {
			cfg.Hostname = h
		}
	}
	if cfg.AppName == "" {
		cfg.AppName = "wardend"
	}
	if cfg.Facility == 0 {
		cfg.Facility = FacLocal0
	}

	conn, err := dialSyslog(cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("syslog connect: %w", err)
	}

	return &SyslogEmitter{
		conn:       conn,
		hostname:   cfg.Hostname,
		appName:    cfg.AppName,
		facility:   cfg.Facility,
		socketPath: cfg.SocketPath,
	}, nil
}

// Emit converts an audit Event to an RFC 5424 message and writes it to
// the syslog socket. Safe to call on a nil receiver (returns nil).
func (w *SyslogEmitter) Emit(ev Event) error {
	if w == nil {
		return nil
	}
	params := make([]SDParam, 0, 4+len(ev.Details))
	if ev.Policy != "" {
		params = append(params, SDParam{Name: "policy", Value: ev.Policy})
	}
	if ev.Target != "" {
		params = append(params, SDParam{Name: "target", Value: ev.Target})
	}
	for k, v := range ev.Details {
		params = append(params, SDParam{Name: k, Value: v})
	}

	msg := Message{
		Facility:  w.facility,
		Severity:  ev.Severity,
		Timestamp: ev.Timestamp,
		Hostname:  w.hostname,
		AppName:   w.appName,
		MessageID: string(ev.Type),
		SD:        []SDElement{{ID: sdID, Params: params}},
	}

	return w.writeOrReconnect(FormatMessage(msg))
}

// Close closes the syslog connection.
func (w *SyslogEmitter) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

// writeOrReconnect writes msg, reconnecting with backoff when the socket
// has gone away.
func (w *SyslogEmitter) writeOrReconnect(msg []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		if _, err := w.conn.Write(msg); err == nil {
			w.backoff = 0
			return nil
		}
		w.conn.Close()
		w.conn = nil
	}

	if w.backoff == 0 {
		w.backoff = reconnectBackoffInit
	}
	if time.Since(w.lastReconnectAt) < w.backoff {
		return fmt.Errorf("syslog unavailable, next reconnect after %s", w.backoff)
	}

	w.lastReconnectAt = time.Now()
	conn, err := dialSyslog(w.socketPath)
	if err != nil {
		w.backoff *= 2
		if w.backoff > reconnectBackoffMax {
			w.backoff = reconnectBackoffMax
		}
		return fmt.Errorf("syslog reconnect: %w", err)
	}

	w.conn = conn
	w.backoff = 0
	_, err = w.conn.Write(msg)
	return err
}

// dialSyslog connects to the local syslog daemon's unix datagram socket,
// falling back to a stream socket for daemons configured that way.
func dialSyslog(path string) (net.Conn, error) {
	conn, err := net.Dial("unixgram", path)
	if err == nil {
		return conn, nil
	}
	return net.Dial("unix", path)
}
