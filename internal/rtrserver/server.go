package rtrserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bgpsrx/rtrsec/internal/cachestore"
	"github.com/bgpsrx/rtrsec/internal/rtrwire"
)

// maxPDUBytes enforces spec.md Section 4.8's "maximum header size (e.g.
// 100 KiB) to defeat memory exhaustion" against a malicious or buggy
// client's declared PDU length.
const maxPDUBytes = 100 * 1024

// Config configures a Server.
type Config struct {
	// Version is the RTR protocol version the server speaks in Cache
	// Response / End of Data PDUs.
	Version uint8

	RefreshInterval uint32
	RetryInterval   uint32
	ExpireInterval  uint32

	// ServiceInterval is how often the dirty flag is drained into a
	// broadcast Serial Notify. Defaults to 60s (spec.md Section 4.8).
	ServiceInterval time.Duration
}

func (c Config) serviceInterval() time.Duration {
	if c.ServiceInterval <= 0 {
		return 60 * time.Second
	}
	return c.ServiceInterval
}

// ClientInfo describes one connected client for the "clients" CLI command.
type ClientInfo struct {
	ID               uint64
	RemoteAddr       string
	LastServedSerial uint32
}

// Metrics is the subset of rtrmetrics.Collector the server records against.
// Declared as an interface here (rather than importing internal/rtrmetrics
// directly) to keep rtrserver free of a dependency on the metrics package;
// cmd/rtrd wires the real collector in via WithMetrics.
type Metrics interface {
	RegisterClient(remoteAddr string)
	UnregisterClient(remoteAddr string)
	IncPDUsSent(remoteAddr, pduType string)
	IncPDUsReceived(remoteAddr, pduType string)
	IncPDUsDropped(remoteAddr string)
}

type noopMetrics struct{}

func (noopMetrics) RegisterClient(string)         {}
func (noopMetrics) UnregisterClient(string)       {}
func (noopMetrics) IncPDUsSent(string, string)     {}
func (noopMetrics) IncPDUsReceived(string, string) {}
func (noopMetrics) IncPDUsDropped(string)          {}

// Option configures optional Server behavior.
type Option func(*Server)

// WithMetrics wires a Metrics recorder into the Server, in the shape of
// bfd.Manager's WithManagerMetrics option.
func WithMetrics(m Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server dispatches RTR sessions against a shared cachestore.Store: one
// goroutine per accepted connection plus one service-timer goroutine,
// grounded on srx-server's rpkirtr_svr.c client fan-out.
type Server struct {
	store   *cachestore.Store
	cfg     Config
	logger  *slog.Logger
	metrics Metrics

	mu           sync.RWMutex
	clients      map[uint64]*client
	nextClientID uint64

	dirty atomic.Bool
}

// NewServer constructs a Server dispatching sessions over store.
func NewServer(store *cachestore.Store, cfg Config, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:   store,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "rtrserver")),
		clients: make(map[uint64]*client),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// client is one connected RTR session as seen from the server side.
type client struct {
	id               uint64
	conn             net.Conn
	remoteAddr       string
	writeMu          sync.Mutex
	lastServedSerial atomic.Uint32
	metrics          Metrics
}

func (c *client) write(pdu rtrwire.PDU) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(pdu.Encode())
	if err == nil {
		c.metrics.IncPDUsSent(c.remoteAddr, pdu.PDUType().String())
	}
	return err
}

// MarkDirty flags that the cache store has changed since the last
// broadcast Serial Notify, for the next service-timer tick to pick up
// (spec.md Section 4.8, "sets a notifyPending flag").
func (s *Server) MarkDirty() {
	s.dirty.Store(true)
}

// Serve accepts connections on ln until ctx is canceled, dispatching each
// to its own goroutine, and runs the service timer alongside. It returns
// when the listener is closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go s.serviceLoop(ctx)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("accept error", slog.String("error", err.Error()))
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) serviceLoop(ctx context.Context) {
	t := time.NewTicker(s.cfg.serviceInterval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if s.dirty.CompareAndSwap(true, false) {
				s.Notify()
			}
		}
	}
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextClientID++
	c.id = s.nextClientID
	s.clients[c.id] = c
}

func (s *Server) removeClient(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, id)
}

// Clients returns a snapshot of currently connected clients.
func (s *Server) Clients() []ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, ClientInfo{
			ID: c.id, RemoteAddr: c.remoteAddr,
			LastServedSerial: c.lastServedSerial.Load(),
		})
	}
	return out
}

// Notify immediately broadcasts a Serial Notify to every connected client,
// bypassing the service timer (the "notify" CLI command).
func (s *Server) Notify() {
	serial := s.store.MaxSerial()
	sessionID := s.store.SessionID()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		pdu := &rtrwire.SerialNotify{Version: s.cfg.Version, SessionID: sessionID, Serial: serial}
		if err := c.write(pdu); err != nil {
			s.logger.Warn("send serial notify failed", slog.Uint64("client", c.id), slog.String("error", err.Error()))
		}
	}
}

// Reset immediately broadcasts a Cache Reset to every connected client,
// forcing each into a fresh Reset Query (the "reset" CLI command).
func (s *Server) Reset() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		pdu := &rtrwire.CacheReset{Version: s.cfg.Version}
		if err := c.write(pdu); err != nil {
			s.logger.Warn("send cache reset failed", slog.Uint64("client", c.id), slog.String("error", err.Error()))
		}
	}
}

// SendError immediately broadcasts an Error Report to every connected
// client (the "error" CLI command).
func (s *Server) SendError(code rtrwire.ErrorCode, msg string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		pdu := &rtrwire.ErrorReport{Version: s.cfg.Version, Code: code, Message: msg}
		if err := c.write(pdu); err != nil {
			s.logger.Warn("send error report failed", slog.Uint64("client", c.id), slog.String("error", err.Error()))
		}
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	c := &client{conn: conn, remoteAddr: conn.RemoteAddr().String(), metrics: s.metrics}
	s.addClient(c)
	s.metrics.RegisterClient(c.remoteAddr)
	defer func() {
		s.removeClient(c.id)
		s.metrics.UnregisterClient(c.remoteAddr)
		_ = conn.Close()
	}()

	s.logger.Info("client connected", slog.Uint64("client", c.id), slog.String("remote", c.remoteAddr))

	header := make([]byte, rtrwire.CommonHeaderSize)
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := io.ReadFull(conn, header); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Debug("client read error", slog.Uint64("client", c.id), slog.String("error", err.Error()))
			}
			return
		}
		h, err := rtrwire.DecodeHeader(header)
		if err != nil {
			s.logger.Warn("bad header", slog.Uint64("client", c.id), slog.String("error", err.Error()))
			return
		}
		if h.Length > maxPDUBytes {
			s.logger.Warn("pdu exceeds maximum size", slog.Uint64("client", c.id), slog.Uint64("length", uint64(h.Length)))
			s.metrics.IncPDUsDropped(c.remoteAddr)
			_ = c.write(&rtrwire.ErrorReport{Version: s.cfg.Version, Code: rtrwire.ErrCorruptData, Message: "pdu exceeds maximum size"})
			return
		}
		buf := make([]byte, h.Length)
		copy(buf, header)
		if h.Length > rtrwire.CommonHeaderSize {
			if _, err := io.ReadFull(conn, buf[rtrwire.CommonHeaderSize:]); err != nil {
				s.logger.Debug("client body read error", slog.Uint64("client", c.id), slog.String("error", err.Error()))
				return
			}
		}
		pdu, err := rtrwire.Decode(buf)
		if err != nil {
			s.logger.Warn("decode error", slog.Uint64("client", c.id), slog.String("error", err.Error()))
			s.metrics.IncPDUsDropped(c.remoteAddr)
			_ = c.write(&rtrwire.ErrorReport{Version: s.cfg.Version, Code: rtrwire.ErrCorruptData, Message: err.Error()})
			return
		}
		s.metrics.IncPDUsReceived(c.remoteAddr, pdu.PDUType().String())
		if !s.dispatch(c, pdu) {
			return
		}
	}
}

// dispatch handles one request PDU from a client. It returns false if the
// connection should be closed.
func (s *Server) dispatch(c *client, pdu rtrwire.PDU) bool {
	switch p := pdu.(type) {
	case *rtrwire.ResetQuery:
		return s.respondSnapshot(c, 0, true)

	case *rtrwire.SerialQuery:
		if p.SessionID != s.store.SessionID() {
			s.logger.Info("serial query session id mismatch, forcing reset",
				slog.Uint64("client", c.id), slog.Any("got", p.SessionID), slog.Any("want", s.store.SessionID()))
			return c.write(&rtrwire.CacheReset{Version: s.cfg.Version}) == nil
		}
		return s.respondSnapshot(c, p.Serial, false)

	case *rtrwire.ErrorReport:
		s.logger.Info("client reported error", slog.Uint64("client", c.id),
			slog.String("code", p.Code.String()), slog.String("message", p.Message))
		return false

	default:
		s.logger.Warn("unexpected pdu from client", slog.Uint64("client", c.id), slog.String("type", pdu.PDUType().String()))
		_ = c.write(&rtrwire.ErrorReport{Version: s.cfg.Version, Code: rtrwire.ErrUnsupportedPDU, Message: pdu.PDUType().String()})
		return false
	}
}

func (s *Server) respondSnapshot(c *client, sinceSerial uint32, isReset bool) bool {
	entries, ok := s.store.Snapshot(sinceSerial, isReset)
	if !ok {
		return c.write(&rtrwire.CacheReset{Version: s.cfg.Version}) == nil
	}

	sessionID := s.store.SessionID()
	if err := c.write(&rtrwire.CacheResponse{Version: s.cfg.Version, SessionID: sessionID}); err != nil {
		return false
	}
	for _, e := range entries {
		pdu, err := entryToPDU(e, s.cfg.Version)
		if err != nil {
			s.logger.Error("entry has no wire representation", slog.String("error", err.Error()))
			continue
		}
		if err := c.write(pdu); err != nil {
			return false
		}
	}
	serial := s.store.MaxSerial()
	eod := &rtrwire.EndOfData{
		Version: s.cfg.Version, SessionID: sessionID, Serial: serial,
		RefreshInterval: s.cfg.RefreshInterval,
		RetryInterval:   s.cfg.RetryInterval,
		ExpireInterval:  s.cfg.ExpireInterval,
	}
	if err := c.write(eod); err != nil {
		return false
	}
	c.lastServedSerial.Store(serial)
	return true
}

// entryToPDU converts one cachestore record into its wire PDU.
func entryToPDU(e cachestore.Entry, version uint8) (rtrwire.PDU, error) {
	flags := uint8(0)
	if e.Announcement {
		flags = rtrwire.AnnouncementFlag
	}
	switch e.Kind {
	case cachestore.KindVPOR:
		if e.VPOR.AFI == 4 {
			var addr [4]byte
			copy(addr[:], e.VPOR.Prefix[:4])
			return &rtrwire.IPv4Prefix{
				Version: version, Flags: flags, PrefixLen: e.VPOR.PrefixLen,
				MaxLen: e.VPOR.MaxLen, Addr: addr, ASN: e.VPOR.OriginASN,
			}, nil
		}
		return &rtrwire.IPv6Prefix{
			Version: version, Flags: flags, PrefixLen: e.VPOR.PrefixLen,
			MaxLen: e.VPOR.MaxLen, Addr: e.VPOR.Prefix, ASN: e.VPOR.OriginASN,
		}, nil

	case cachestore.KindRouterKey:
		return &rtrwire.RouterKey{
			Version: version, Flags: flags, SKI: e.RouterKey.SKI,
			ASN: e.RouterKey.ASN, SPKI: e.RouterKey.SPKI,
		}, nil

	case cachestore.KindASPA:
		return &rtrwire.ASPA{
			Version: version, Flags: flags,
			CustomerASN: e.ASPA.CustomerASN, Providers: e.ASPA.ProviderASNs,
		}, nil

	default:
		return nil, fmt.Errorf("rtrserver: unknown record kind %v", e.Kind)
	}
}
