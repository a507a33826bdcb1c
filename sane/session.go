package sane

import (
	"fmt"
	"log/slog"
	"net"
	"os/user"
	"sync"
	"time"
)

// DefaultPort is the TCP port saned listens on.
const DefaultPort = 6566

// The protocol version requested during the INIT handshake.
const (
	protocolMajor = 1
	protocolMinor = 0
	protocolBuild = 3
)

// Session is one connection to a saned instance. It owns the control
// socket for its whole life. A session and its open devices are not safe
// for concurrent use; callers sharing one across goroutines must
// serialize at the session boundary. Cancel is the exception: it may be
// issued from another goroutine while a scan is blocked on the data
// socket.
type Session struct {
	mu        sync.Mutex
	conn      *net.TCPConn
	r         *reader
	w         *writer
	host      string
	timeout   time.Duration
	passwords PasswordProvider
	closed    bool
}

// Open connects to a saned instance and performs the INIT handshake.
// A zero timeout disables deadlines; a non-zero timeout below one
// millisecond is clamped to one millisecond.
func Open(host string, port int, timeout time.Duration) (*Session, error) {
	timeout = clampTimeout(timeout)
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	tcp := conn.(*net.TCPConn)
	tcp.SetNoDelay(true)

	s := &Session{
		conn:    tcp,
		r:       newReader(tcp),
		w:       newWriter(tcp),
		host:    host,
		timeout: timeout,
	}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}
	slog.Debug("session established", "addr", addr)
	return s, nil
}

// init sends SANE_NET_INIT with the requested protocol version and the
// current OS username, then discards the status and version words of the
// reply.
func (s *Session) init() error {
	s.deadline()
	if err := s.w.word(Word(OpInit)); err != nil {
		return err
	}
	if err := s.w.word(VersionWord(protocolMajor, protocolMinor, protocolBuild)); err != nil {
		return err
	}
	if err := s.w.str(currentUsername()); err != nil {
		return err
	}
	if err := s.w.flush(); err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		if _, err := s.r.word(); err != nil {
			return fmt.Errorf("init reply: %w", err)
		}
	}
	return nil
}

// SetPasswordProvider installs the credential source used to answer
// authorization demands. Without one, any demand fails the operation.
func (s *Session) SetPasswordProvider(p PasswordProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords = p
}

// ListDevices asks the daemon for its device list. An empty list is
// legal.
func (s *Session) ListDevices() ([]*Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, preconditionf("session is closed")
	}
	s.deadline()

	if err := s.w.word(Word(OpGetDevices)); err != nil {
		return nil, err
	}
	if err := s.w.flush(); err != nil {
		return nil, err
	}

	status, err := s.r.status()
	if err != nil {
		return nil, err
	}
	if status != StatusGood {
		return nil, &StatusError{Op: "get devices", Status: status}
	}

	// The wire length counts one more than the device records because
	// the list ends with a null pointer, consumed after the loop.
	length, err := s.r.word()
	if err != nil {
		return nil, err
	}
	count := int(length.Int()) - 1
	if count < 0 {
		return nil, protocolf("device list length %d", length.Int())
	}

	devices := make([]*Device, 0, count)
	for i := 0; i < count; i++ {
		if _, err := s.r.pointer(); err != nil {
			return nil, err
		}
		d := &Device{session: s}
		if d.name, err = s.r.str(); err != nil {
			return nil, err
		}
		if d.vendor, err = s.r.str(); err != nil {
			return nil, err
		}
		if d.model, err = s.r.str(); err != nil {
			return nil, err
		}
		if d.typ, err = s.r.str(); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if _, err := s.r.word(); err != nil {
		return nil, fmt.Errorf("device list terminator: %w", err)
	}
	slog.Debug("devices listed", "count", len(devices))
	return devices, nil
}

// Device returns a handle on the named device without any RPC; the name
// is validated when the device is opened.
func (s *Session) Device(name string) *Device {
	return &Device{session: s, name: name}
}

// Close sends a best-effort EXIT and closes the control socket. The
// socket is closed on every path; closing an already-closed session is a
// no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.deadline()
	if err := s.w.word(Word(OpExit)); err == nil {
		s.w.flush()
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	slog.Debug("session closed", "host", s.host)
	return nil
}

// authorize answers an authorization demand for the given resource. The
// caller re-reads its interrupted reply from the start afterwards.
// Without a provider, or with one that cannot satisfy the resource, the
// demand fails before any credentials touch the wire.
func (s *Session) authorize(resource string) error {
	if s.passwords == nil {
		return &AuthError{Resource: resource, Msg: "no password provider installed"}
	}
	if !s.passwords.CanAuthenticate(resource) {
		return &AuthError{Resource: resource, Msg: "no credentials for resource"}
	}
	password, err := encodedPassword(resource, s.passwords.Password(resource))
	if err != nil {
		return err
	}

	slog.Debug("authorizing", "resource", resource)
	if err := s.w.word(Word(OpAuthorize)); err != nil {
		return err
	}
	if err := s.w.str(resource); err != nil {
		return err
	}
	if err := s.w.str(s.passwords.Username(resource)); err != nil {
		return err
	}
	if err := s.w.str(password); err != nil {
		return err
	}
	if err := s.w.flush(); err != nil {
		return err
	}
	// The authorize reply is a single ignored word; the interrupted
	// reply resumes after it.
	if _, err := s.r.word(); err != nil {
		return fmt.Errorf("authorize reply: %w", err)
	}
	return nil
}

// deadline arms the socket deadline for the next exchange.
func (s *Session) deadline() {
	if s.timeout > 0 {
		s.conn.SetDeadline(time.Now().Add(s.timeout))
	}
}

// clampTimeout raises sub-millisecond timeouts to one millisecond; zero
// stays zero and disables deadlines.
func clampTimeout(timeout time.Duration) time.Duration {
	if timeout > 0 && timeout < time.Millisecond {
		slog.Warn("timeout below one millisecond, clamping", "timeout", timeout)
		return time.Millisecond
	}
	return timeout
}

// currentUsername returns the OS username sent during INIT.
func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
