package rtrclient_test

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bgpsrx/rtrsec/internal/rtrclient"
	"github.com/bgpsrx/rtrsec/internal/rtrwire"
)

// readPDU reads one complete PDU off conn, for the fake-server side of a
// net.Pipe() test harness.
func readPDU(t *testing.T, conn net.Conn) rtrwire.PDU {
	t.Helper()
	header := make([]byte, rtrwire.CommonHeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	h, err := rtrwire.DecodeHeader(header)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	buf := make([]byte, h.Length)
	copy(buf, header)
	if h.Length > rtrwire.CommonHeaderSize {
		if _, err := io.ReadFull(conn, buf[rtrwire.CommonHeaderSize:]); err != nil {
			t.Fatalf("read body: %v", err)
		}
	}
	pdu, err := rtrwire.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return pdu
}

func writePDU(t *testing.T, conn net.Conn, pdu rtrwire.PDU) {
	t.Helper()
	if _, err := conn.Write(pdu.Encode()); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// TestSessionResetQueryRoundTrip is scenario S1.
func TestSessionResetQueryRoundTrip(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var mu sync.Mutex
	var gotPrefix bool
	var gotAnn bool
	var gotPrefixVal rtrwire.IPv4Prefix
	endOfDataCh := make(chan struct {
		sessionID uint16
		serial    uint32
	}, 1)

	cfg := rtrclient.Config{
		InitialVersion: 0,
		Callbacks: rtrclient.Callbacks{
			OnIPv4Prefix: func(ann bool, p rtrwire.IPv4Prefix) {
				mu.Lock()
				gotPrefix = true
				gotAnn = ann
				gotPrefixVal = p
				mu.Unlock()
			},
			OnEndOfData: func(sessionID uint16, serial uint32) {
				endOfDataCh <- struct {
					sessionID uint16
					serial    uint32
				}{sessionID, serial}
			},
		},
	}
	sess := rtrclient.NewSession(clientConn, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- sess.Run(ctx) }()

	// Client opens and sends a Reset Query.
	req := readPDU(t, serverConn)
	rq, ok := req.(*rtrwire.ResetQuery)
	if !ok || rq.Version != 0 {
		t.Fatalf("got %#v, want ResetQuery{Version:0}", req)
	}

	writePDU(t, serverConn, &rtrwire.CacheResponse{Version: 0, SessionID: 0x1234})
	writePDU(t, serverConn, &rtrwire.IPv4Prefix{
		Version: 0, Flags: rtrwire.AnnouncementFlag,
		PrefixLen: 24, MaxLen: 24, Addr: [4]byte{10, 0, 0, 0}, ASN: 65000,
	})
	writePDU(t, serverConn, &rtrwire.EndOfData{Version: 0, SessionID: 0x1234, Serial: 1})

	select {
	case got := <-endOfDataCh:
		if got.sessionID != 0x1234 || got.serial != 1 {
			t.Fatalf("OnEndOfData(%#x, %d), want (0x1234, 1)", got.sessionID, got.serial)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnEndOfData")
	}

	mu.Lock()
	defer mu.Unlock()
	if !gotPrefix || !gotAnn {
		t.Fatalf("prefix callback not fired as announcement: fired=%v ann=%v", gotPrefix, gotAnn)
	}
	if gotPrefixVal.Addr != [4]byte{10, 0, 0, 0} || gotPrefixVal.ASN != 65000 {
		t.Fatalf("prefix = %+v, want 10.0.0.0/24-24 asn=65000", gotPrefixVal)
	}
	if sess.State() != rtrclient.StateSynced {
		t.Fatalf("State() = %v, want Synced", sess.State())
	}
}

// TestSessionIDChangeAfterReconnect is scenario S2.
func TestSessionIDChangeAfterReconnect(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	changedCh := make(chan struct{ old, newID uint16 }, 1)
	establishedCh := make(chan uint16, 1)

	cfg := rtrclient.Config{
		InitialVersion:   0,
		HavePriorSession: true,
		PriorSessionID:   0x1234,
		PriorSerial:      7,
		Callbacks: rtrclient.Callbacks{
			OnSessionIDChanged: func(old, newID uint16) {
				changedCh <- struct{ old, newID uint16 }{old, newID}
			},
			OnSessionIDEstablished: func(sessionID uint16) {
				establishedCh <- sessionID
			},
		},
	}
	sess := rtrclient.NewSession(clientConn, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sess.Run(ctx) }()

	// Client, carrying forward (sessionID=0x1234, serial=7), starts a fresh
	// handshake with a Reset Query (spec.md Section 1: reconnection policy
	// beyond driving the FSM is out of scope, so every Run starts with a
	// Reset Query rather than a Serial Query).
	req := readPDU(t, serverConn)
	if _, ok := req.(*rtrwire.ResetQuery); !ok {
		t.Fatalf("got %#v, want ResetQuery", req)
	}

	writePDU(t, serverConn, &rtrwire.CacheResponse{Version: 0, SessionID: 0x5678})

	select {
	case got := <-changedCh:
		if got.old != 0x1234 || got.newID != 0x5678 {
			t.Fatalf("OnSessionIDChanged(%#x, %#x), want (0x1234, 0x5678)", got.old, got.newID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnSessionIDChanged")
	}

	writePDU(t, serverConn, &rtrwire.EndOfData{Version: 0, SessionID: 0x5678, Serial: 1})

	select {
	case got := <-establishedCh:
		if got != 0x5678 {
			t.Fatalf("OnSessionIDEstablished(%#x), want 0x5678", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnSessionIDEstablished")
	}

	if id, ok := sess.SessionID(); !ok || id != 0x5678 {
		t.Fatalf("SessionID() = (%#x, %v), want (0x5678, true)", id, ok)
	}
}

// TestSessionVersionDowngrade is scenario S3.
func TestSessionVersionDowngrade(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	errorCh := make(chan rtrwire.ErrorCode, 1)
	cfg := rtrclient.Config{
		InitialVersion: 2,
		AllowDowngrade: true,
		Callbacks: rtrclient.Callbacks{
			OnError: func(code rtrwire.ErrorCode, _ string) { errorCh <- code },
		},
	}
	sess := rtrclient.NewSession(clientConn, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sess.Run(ctx) }()

	req := readPDU(t, serverConn)
	if rq, ok := req.(*rtrwire.ResetQuery); !ok || rq.Version != 2 {
		t.Fatalf("got %#v, want ResetQuery{Version:2}", req)
	}

	writePDU(t, serverConn, &rtrwire.CacheResponse{Version: 1, SessionID: 0x1})

	deadline := time.After(2 * time.Second)
	for sess.Version() != 1 {
		select {
		case <-deadline:
			t.Fatalf("Version() never became 1, stuck at %d", sess.Version())
		case <-time.After(10 * time.Millisecond):
		}
	}

	select {
	case code := <-errorCh:
		t.Fatalf("unexpected Error Report emitted for a permitted downgrade: %v", code)
	case <-time.After(100 * time.Millisecond):
	}

	if sess.State() != rtrclient.StateReceiving {
		t.Fatalf("State() = %v, want Receiving", sess.State())
	}
}

// TestSessionIDMonotonicityInvariant is universal invariant #7: after a
// session change is detected, the next End of Data both fires
// OnSessionIDEstablished exactly once and clears the internal flag so a
// second End of Data under the same (unchanged) session does not refire it.
func TestSessionIDMonotonicityInvariant(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var establishedCount int
	var mu sync.Mutex
	cfg := rtrclient.Config{
		InitialVersion:   0,
		HavePriorSession: true,
		PriorSessionID:   0x1111,
		PriorSerial:      3,
		Callbacks: rtrclient.Callbacks{
			OnSessionIDEstablished: func(uint16) {
				mu.Lock()
				establishedCount++
				mu.Unlock()
			},
		},
	}
	sess := rtrclient.NewSession(clientConn, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sess.Run(ctx) }()

	readPDU(t, serverConn) // initial Reset Query

	writePDU(t, serverConn, &rtrwire.CacheResponse{Version: 0, SessionID: 0x2222})
	writePDU(t, serverConn, &rtrwire.EndOfData{Version: 0, SessionID: 0x2222, Serial: 4})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := establishedCount
		mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("OnSessionIDEstablished never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A Serial Notify drives Synced -> WaitResponse -> a second Cache
	// Response round under the SAME session id must not refire the hook.
	writePDU(t, serverConn, &rtrwire.SerialNotify{Version: 0, SessionID: 0x2222, Serial: 5})
	readPDU(t, serverConn) // the resulting Serial Query
	writePDU(t, serverConn, &rtrwire.EndOfData{Version: 0, SessionID: 0x2222, Serial: 5})

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if establishedCount != 1 {
		t.Fatalf("OnSessionIDEstablished fired %d times, want exactly 1", establishedCount)
	}
}

func TestSessionTerminatesOnFatalErrorReport(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sess := rtrclient.NewSession(clientConn, rtrclient.Config{InitialVersion: 0}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- sess.Run(ctx) }()

	readPDU(t, serverConn)
	writePDU(t, serverConn, &rtrwire.ErrorReport{Version: 0, Code: rtrwire.ErrInternalError})

	select {
	case err := <-runErrCh:
		if !errors.Is(err, rtrclient.ErrTerminated) {
			t.Fatalf("Run() error = %v, want ErrTerminated", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run() to return")
	}
	if sess.State() != rtrclient.StateTerminated {
		t.Fatalf("State() = %v, want Terminated", sess.State())
	}
}
