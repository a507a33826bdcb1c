package sane

import (
	"fmt"
	"net"
	"testing"
	"time"
)

// fakeSaned serves one scripted saned conversation on a loopback
// listener. Scripts speak through srvConn, which records the first wire
// error instead of failing the test from a foreign goroutine.
type fakeSaned struct {
	t    *testing.T
	ln   net.Listener
	port int
	done chan struct{}
	sc   *srvConn
}

func startFakeSaned(t *testing.T, script func(sc *srvConn)) *fakeSaned {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeSaned{
		t:    t,
		ln:   ln,
		port: ln.Addr().(*net.TCPAddr).Port,
		done: make(chan struct{}),
		sc:   &srvConn{},
	}
	go func() {
		defer close(f.done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		f.sc.r = newReader(conn)
		f.sc.w = newWriter(conn)
		f.sc.serveInit()
		if script != nil {
			script(f.sc)
		}
		f.sc.w.flush()
	}()
	t.Cleanup(func() {
		ln.Close()
		select {
		case <-f.done:
		case <-time.After(5 * time.Second):
			t.Error("fake saned did not finish")
		}
	})
	return f
}

// open dials the fake daemon and registers cleanup.
func (f *fakeSaned) open(t *testing.T) *Session {
	t.Helper()
	s, err := Open("127.0.0.1", f.port, 2*time.Second)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// checkScript fails the test if the script saw a wire mismatch.
func (f *fakeSaned) checkScript(t *testing.T) {
	t.Helper()
	<-f.done
	if f.sc.err != nil {
		t.Errorf("fake saned: %v", f.sc.err)
	}
}

// srvConn is the server side of a scripted conversation. After the
// first error every operation is a no-op.
type srvConn struct {
	r   *reader
	w   *writer
	err error
}

func (sc *srvConn) fail(format string, args ...any) {
	if sc.err == nil {
		sc.err = fmt.Errorf(format, args...)
	}
}

func (sc *srvConn) word() Word {
	if sc.err != nil {
		return 0
	}
	w, err := sc.r.word()
	if err != nil {
		sc.fail("read word: %v", err)
	}
	return w
}

func (sc *srvConn) str() string {
	if sc.err != nil {
		return ""
	}
	s, err := sc.r.str()
	if err != nil {
		sc.fail("read string: %v", err)
	}
	return s
}

func (sc *srvConn) expectWord(want Word, label string) {
	if got := sc.word(); sc.err == nil && got != want {
		sc.fail("%s = %#x, want %#x", label, uint32(got), uint32(want))
	}
}

func (sc *srvConn) expectOpcode(want Opcode) {
	if got := sc.word(); sc.err == nil && Opcode(got) != want {
		sc.fail("opcode = %v, want %v", Opcode(got), want)
	}
}

func (sc *srvConn) expectStr(want, label string) {
	if got := sc.str(); sc.err == nil && got != want {
		sc.fail("%s = %q, want %q", label, got, want)
	}
}

func (sc *srvConn) writeWords(words ...Word) {
	for _, v := range words {
		if sc.err != nil {
			return
		}
		if err := sc.w.word(v); err != nil {
			sc.fail("write word: %v", err)
		}
	}
}

func (sc *srvConn) writeStr(s string) {
	if sc.err != nil {
		return
	}
	if err := sc.w.str(s); err != nil {
		sc.fail("write string: %v", err)
	}
}

func (sc *srvConn) flush() {
	if sc.err != nil {
		return
	}
	if err := sc.w.flush(); err != nil {
		sc.fail("flush: %v", err)
	}
}

// serveInit consumes the INIT request and replies with a good status
// and the daemon version.
func (sc *srvConn) serveInit() {
	sc.expectOpcode(OpInit)
	sc.expectWord(VersionWord(1, 0, 3), "init version")
	if username := sc.str(); sc.err == nil && username == "" {
		sc.fail("init username is empty")
	}
	sc.writeWords(Word(StatusGood), VersionWord(1, 0, 3))
	sc.flush()
}

// serveOpen consumes an OPEN request for the named device and hands out
// the given handle without demanding authorization.
func (sc *srvConn) serveOpen(name string, handle Word) {
	sc.expectOpcode(OpOpen)
	sc.expectStr(name, "open device name")
	sc.writeWords(Word(StatusGood), handle)
	sc.writeStr("")
	sc.flush()
}

// dataServer accepts sequential connections on a loopback listener and
// serves each with the given function.
type dataServer struct {
	port int
}

func startDataServer(t *testing.T, count int, serve func(i int, conn net.Conn)) *dataServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen data: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < count; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			serve(i, conn)
			conn.Close()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("data server did not finish")
		}
	})
	return &dataServer{port: ln.Addr().(*net.TCPAddr).Port}
}
