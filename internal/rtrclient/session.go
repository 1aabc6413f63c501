package rtrclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/bgpsrx/rtrsec/internal/rtrwire"
)

// Sentinel errors returned by Session.Run.
var (
	// ErrTerminated indicates the cache sent a fatal Error Report (or an
	// unrecoverable protocol-version mismatch) and the session must not be
	// retried without operator intervention.
	ErrTerminated = errors.New("rtrclient: session terminated")

	// ErrSessionIDMismatch indicates an End of Data PDU carried a session
	// ID that does not match the one recorded at the last Cache Response.
	ErrSessionIDMismatch = errors.New("rtrclient: end-of-data session id does not match cache response")
)

const (
	// recvChSize buffers decoded PDUs between the reader goroutine and the
	// session event loop, sized like internal/bfd/session.go's recvCh.
	recvChSize = 16

	// defaultRetryInterval is used when Config.RetryInterval is zero: how
	// long to wait in Idle after a NoDataAvailable response before retrying
	// the query (spec.md Section 4.6: "Error(NoDataAvailable) -> IDLE
	// (keepalive retry)").
	defaultRetryInterval = 30 * time.Second
)

// Config configures a new Session.
type Config struct {
	// InitialVersion is the RTR protocol version the client offers first.
	InitialVersion uint8

	// AllowDowngrade permits adopting a lower version offered by the cache
	// during startup version negotiation (spec.md Section 4.6).
	AllowDowngrade bool

	// RetryInterval is how long to wait in Idle before re-querying after a
	// NoDataAvailable response. Defaults to defaultRetryInterval if zero.
	RetryInterval time.Duration

	// HavePriorSession and PriorSessionID/PriorSerial carry state forward
	// across a reconnect so the new Session can detect a session ID change
	// (spec.md scenario S2). Run still starts with a Reset Query; the prior
	// serial is what Serial() reports until the first End of Data.
	HavePriorSession bool
	PriorSessionID   uint16
	PriorSerial      uint32

	Callbacks Callbacks
}

// Session drives the RTR client protocol FSM over a single net.Conn. All
// mutable protocol state is owned by the goroutine running inside Run.
// State() uses atomics for lock-free external reads, in the shape of
// internal/bfd/session.go.
type Session struct {
	conn   net.Conn
	logger *slog.Logger
	cb     Callbacks

	allowDowngrade bool
	retryInterval  time.Duration

	// version is the currently negotiated protocol version. Only mutated
	// by the session goroutine during startup negotiation.
	version uint8

	// sessionID/haveSession/serial are only mutated by the session
	// goroutine; State() style atomic accessors are provided for callers
	// that want to inspect them (e.g. a control CLI) after Run returns or
	// between reconnects.
	sessionID   atomic.Uint32 // holds a uint16 value
	haveSession atomic.Bool
	serial      atomic.Uint32

	// pendingEstablished realizes the "sessionChanged" flag of spec.md's
	// Session-ID monotonicity invariant: set when a Cache Response changes
	// the session ID, cleared (and OnSessionIDEstablished fired) at the
	// next End of Data.
	pendingEstablished bool

	state atomic.Uint32
}

// NewSession constructs a Session bound to conn. conn is not touched until
// Run is called.
func NewSession(conn net.Conn, cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = defaultRetryInterval
	}

	s := &Session{
		conn:           conn,
		logger:         logger.With(slog.String("component", "rtrclient")),
		cb:             cfg.Callbacks,
		allowDowngrade: cfg.AllowDowngrade,
		retryInterval:  retry,
		version:        cfg.InitialVersion,
	}
	s.state.Store(uint32(StateIdle))
	if cfg.HavePriorSession {
		s.sessionID.Store(uint32(cfg.PriorSessionID))
		s.haveSession.Store(true)
		s.serial.Store(cfg.PriorSerial)
	}
	return s
}

// State returns the current FSM state.
func (s *Session) State() State { return State(s.state.Load()) }

// SessionID returns the last recorded cache session ID and whether one has
// been recorded yet.
func (s *Session) SessionID() (id uint16, ok bool) {
	return uint16(s.sessionID.Load()), s.haveSession.Load()
}

// Serial returns the last End-of-Data serial recorded.
func (s *Session) Serial() uint32 { return s.serial.Load() }

// Version returns the currently negotiated protocol version.
func (s *Session) Version() uint8 { return s.version }

// Run drives the session to completion: it sends the initial Reset Query
// (or, across a reconnect carrying prior session state, still a Reset
// Query — spec.md Section 1 scopes TCP reconnection policy itself out, so
// Run always starts a fresh handshake), reads PDUs until the connection
// closes or a fatal condition is reached, and returns the terminating
// error. A clean peer-initiated close returns io.EOF wrapped with context;
// ErrTerminated indicates a fatal Error Report.
func (s *Session) Run(ctx context.Context) error {
	pduCh := make(chan rtrwire.PDU, recvChSize)
	readErrCh := make(chan error, 1)
	go s.readLoop(pduCh, readErrCh)

	s.transition(EventConnect)
	s.transition(EventSendQuery)
	if err := s.sendResetQuery(); err != nil {
		return fmt.Errorf("rtrclient: send reset query: %w", err)
	}

	retryTimer := time.NewTimer(s.retryInterval)
	defer retryTimer.Stop()
	retryTimer.Stop()
	drainTimer(retryTimer)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case pdu := <-pduCh:
			if err := s.handlePDU(pdu); err != nil {
				if errors.Is(err, errTerminatedSession) {
					return ErrTerminated
				}
				return err
			}
			if s.State() == StateIdle {
				retryTimer.Reset(s.retryInterval)
			}

		case err := <-readErrCh:
			s.transition(EventDisconnect)
			return fmt.Errorf("rtrclient: connection closed: %w", err)

		case <-retryTimer.C:
			if s.State() != StateIdle {
				continue
			}
			s.transition(EventConnect)
			s.transition(EventSendQuery)
			if err := s.sendResetQuery(); err != nil {
				return fmt.Errorf("rtrclient: send reset query: %w", err)
			}
		}
	}
}

// errTerminatedSession is an internal sentinel used to unwind handlePDU
// into Run's ErrTerminated return without exposing error wrapping noise.
var errTerminatedSession = errors.New("rtrclient: terminated")

// readLoop reads complete PDUs from the connection and forwards them (or a
// terminal read error) to the caller-supplied channels. It exits when the
// connection is closed or a decode error occurs.
func (s *Session) readLoop(pduCh chan<- rtrwire.PDU, errCh chan<- error) {
	header := make([]byte, rtrwire.CommonHeaderSize)
	for {
		if _, err := io.ReadFull(s.conn, header); err != nil {
			errCh <- err
			return
		}
		h, err := rtrwire.DecodeHeader(header)
		if err != nil {
			errCh <- err
			return
		}
		buf := make([]byte, h.Length)
		copy(buf, header)
		if h.Length > rtrwire.CommonHeaderSize {
			if _, err := io.ReadFull(s.conn, buf[rtrwire.CommonHeaderSize:]); err != nil {
				errCh <- err
				return
			}
		}
		pdu, err := rtrwire.Decode(buf)
		if err != nil {
			errCh <- err
			return
		}
		pduCh <- pdu
	}
}

// transition applies event to the FSM, executes the resulting actions, and
// fires OnStateChange when the state actually moved.
func (s *Session) transition(event Event) FSMResult {
	res := ApplyEvent(s.State(), event)
	s.state.Store(uint32(res.NewState))
	if res.Changed {
		s.logger.Debug("fsm transition",
			slog.String("event", event.String()),
			slog.String("from", res.OldState.String()),
			slog.String("to", res.NewState.String()),
		)
		s.cb.stateChanged(res.OldState, res.NewState)
	}
	for _, a := range res.Actions {
		s.executeAction(a)
	}
	return res
}

func (s *Session) executeAction(a Action) {
	switch a {
	case ActionNotifyDisconnected, ActionNotifyTerminated, ActionDropCache,
		ActionNotifySynced:
		// Pure notifications with no further side effect beyond the
		// OnStateChange callback already fired by transition; kept as
		// distinct actions so callers inspecting FSMResult.Actions can
		// distinguish why a state was left.
	case ActionSendResetQuery, ActionSendSerialQuery:
		// Sent explicitly by callers (Run, handlePDU) rather than here,
		// since it must happen before the next PDU is read, not merely
		// logged; the action still appears in FSMResult for observability.
	}
}

// handlePDU processes one decoded PDU and drives the FSM.
func (s *Session) handlePDU(pdu rtrwire.PDU) error {
	if s.State() == StateWaitResponse {
		if err := s.checkVersion(pdu); err != nil {
			return err
		}
	}

	switch p := pdu.(type) {
	case *rtrwire.CacheResponse:
		s.recordSessionID(p.SessionID)
		s.transition(EventRecvCacheResponse)

	case *rtrwire.IPv4Prefix:
		if s.cb.OnIPv4Prefix != nil {
			s.cb.OnIPv4Prefix(p.Announcement(), *p)
		}
		s.transition(EventRecvData)

	case *rtrwire.IPv6Prefix:
		if s.cb.OnIPv6Prefix != nil {
			s.cb.OnIPv6Prefix(p.Announcement(), *p)
		}
		s.transition(EventRecvData)

	case *rtrwire.RouterKey:
		if s.cb.OnRouterKey != nil {
			s.cb.OnRouterKey(p.Announcement(), *p)
		}
		s.transition(EventRecvData)

	case *rtrwire.ASPA:
		if s.cb.OnASPA != nil {
			s.cb.OnASPA(p.Announcement(), *p)
		}
		s.transition(EventRecvData)

	case *rtrwire.EndOfData:
		if s.haveSession.Load() && uint16(s.sessionID.Load()) != p.SessionID {
			return fmt.Errorf("rtrclient: session=%#x serial=%d: %w", p.SessionID, p.Serial, ErrSessionIDMismatch)
		}
		s.serial.Store(p.Serial)
		s.transition(EventRecvEndOfData)
		if s.cb.OnEndOfData != nil {
			s.cb.OnEndOfData(p.SessionID, p.Serial)
		}
		if s.pendingEstablished {
			s.pendingEstablished = false
			if s.cb.OnSessionIDEstablished != nil {
				s.cb.OnSessionIDEstablished(p.SessionID)
			}
		}

	case *rtrwire.CacheReset:
		s.transition(EventRecvCacheReset)
		if err := s.sendResetQuery(); err != nil {
			return fmt.Errorf("rtrclient: send reset query after cache reset: %w", err)
		}
		s.transition(EventSendQuery)

	case *rtrwire.SerialNotify:
		s.transition(EventRecvSerialNotify)
		if err := s.sendSerialQuery(); err != nil {
			return fmt.Errorf("rtrclient: send serial query after notify: %w", err)
		}

	case *rtrwire.ErrorReport:
		if s.cb.OnError != nil {
			s.cb.OnError(p.Code, p.Message)
		}
		return s.handleErrorReport(p)

	default:
		s.logger.Warn("unexpected pdu in session", slog.String("type", pdu.PDUType().String()))
	}
	return nil
}

// checkVersion implements the startup version-negotiation rule of
// spec.md Section 4.6: on a PDU whose version differs from ours, downgrade
// silently if permitted, otherwise send UnsupportedProtocolVersion and
// terminate.
func (s *Session) checkVersion(pdu rtrwire.PDU) error {
	peerVersion, ok := pduVersion(pdu)
	if !ok || peerVersion == s.version {
		return nil
	}
	if s.version > peerVersion && s.allowDowngrade {
		s.logger.Info("downgrading protocol version",
			slog.Int("from", int(s.version)), slog.Int("to", int(peerVersion)))
		s.version = peerVersion
		return nil
	}
	_ = s.sendErrorReport(rtrwire.ErrUnsupportedProtoVersion, "unsupported protocol version")
	s.transition(EventRecvErrorVersionFatal)
	return errTerminatedSession
}

func (s *Session) handleErrorReport(p *rtrwire.ErrorReport) error {
	switch p.Code {
	case rtrwire.ErrNoDataAvailable:
		s.transition(EventRecvErrorNoData)
		return nil
	case rtrwire.ErrUnsupportedProtoVersion:
		if s.allowDowngrade && s.version > 0 {
			s.transition(EventRecvErrorDowngrade)
			return nil
		}
		s.transition(EventRecvErrorVersionFatal)
		return errTerminatedSession
	default:
		s.transition(EventRecvErrorOther)
		return errTerminatedSession
	}
}

// recordSessionID applies a Cache Response's session ID, detecting a
// session change per spec.md scenario S2.
func (s *Session) recordSessionID(newID uint16) {
	hadSession := s.haveSession.Load()
	old := uint16(s.sessionID.Load())
	if hadSession && newID != old {
		s.pendingEstablished = true
		if s.cb.OnSessionIDChanged != nil {
			s.cb.OnSessionIDChanged(old, newID)
		}
	}
	s.sessionID.Store(uint32(newID))
	s.haveSession.Store(true)
}

func (s *Session) sendResetQuery() error {
	pdu := &rtrwire.ResetQuery{Version: s.version}
	_, err := s.conn.Write(pdu.Encode())
	return err
}

func (s *Session) sendSerialQuery() error {
	id, _ := s.SessionID()
	pdu := &rtrwire.SerialQuery{Version: s.version, SessionID: id, Serial: s.Serial()}
	_, err := s.conn.Write(pdu.Encode())
	return err
}

func (s *Session) sendErrorReport(code rtrwire.ErrorCode, msg string) error {
	pdu := &rtrwire.ErrorReport{Version: s.version, Code: code, Message: msg}
	_, err := s.conn.Write(pdu.Encode())
	return err
}

// drainTimer empties a stopped timer's channel so it can be safely reused,
// in the shape of internal/bfd/session.go's helper of the same name.
func drainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}

// pduVersion extracts the protocol version field carried by pdu, if any.
func pduVersion(pdu rtrwire.PDU) (uint8, bool) {
	switch p := pdu.(type) {
	case *rtrwire.SerialNotify:
		return p.Version, true
	case *rtrwire.SerialQuery:
		return p.Version, true
	case *rtrwire.ResetQuery:
		return p.Version, true
	case *rtrwire.CacheResponse:
		return p.Version, true
	case *rtrwire.IPv4Prefix:
		return p.Version, true
	case *rtrwire.IPv6Prefix:
		return p.Version, true
	case *rtrwire.EndOfData:
		return p.Version, true
	case *rtrwire.CacheReset:
		return p.Version, true
	case *rtrwire.RouterKey:
		return p.Version, true
	case *rtrwire.ErrorReport:
		return p.Version, true
	case *rtrwire.ASPA:
		return p.Version, true
	default:
		return 0, false
	}
}
