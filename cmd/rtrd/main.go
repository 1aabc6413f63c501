// rtrd is the RPKI-to-Router cache session daemon: it serves RFC 6810/8210
// RTR sessions out of an in-memory cache store, driven by the line-oriented
// CLI surface read from stdin or a script file (grounded on srx-server's
// rpkirtr_svr.c command loop).
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bgpsrx/rtrsec/internal/cachestore"
	"github.com/bgpsrx/rtrsec/internal/config"
	"github.com/bgpsrx/rtrsec/internal/rtrmetrics"
	"github.com/bgpsrx/rtrsec/internal/rtrserver"
	"github.com/bgpsrx/rtrsec/internal/rtrwire"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	sessionID, err := randomSessionID()
	if err != nil {
		logger.Error("failed to generate session id", slog.String("error", err.Error()))
		return 1
	}
	store := cachestore.NewStore(sessionID)

	reg := prometheus.NewRegistry()
	collector := rtrmetrics.NewCollector(reg)

	srv := rtrserver.NewServer(store, rtrserver.Config{
		Version:         cfg.RTR.Version,
		RefreshInterval: uint32(cfg.RTR.RefreshInterval.Seconds()),
		RetryInterval:   uint32(cfg.RTR.RetryInterval.Seconds()),
		ExpireInterval:  uint32(cfg.RTR.ExpireInterval.Seconds()),
		ServiceInterval: cfg.RTR.ServiceInterval,
	}, logger, rtrserver.WithMetrics(collector))

	logger.Info("rtrd starting",
		slog.String("listen_addr", cfg.Listen.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.Any("session_id", sessionID),
	)

	if err := runDaemon(cfg, store, srv, reg, logger); err != nil {
		logger.Error("rtrd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("rtrd stopped")
	return 0
}

func runDaemon(
	cfg *config.Config,
	store *cachestore.Store,
	srv *rtrserver.Server,
	reg *prometheus.Registry,
	logger *slog.Logger,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	ln, err := net.Listen("tcp", cfg.Listen.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Listen.Addr, err)
	}

	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	g.Go(func() error {
		logger.Info("rtr listener started", slog.String("addr", cfg.Listen.Addr))
		return srv.Serve(gCtx, ln)
	})

	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr), slog.String("path", cfg.Metrics.Path))
		return serveHTTP(gCtx, metricsSrv)
	})

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	g.Go(func() error {
		runCLI(gCtx, os.Stdin, store, srv, logger)
		stop()
		return nil
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, metricsSrv, logger)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

func gracefulShutdown(ctx context.Context, metricsSrv *http.Server, logger *slog.Logger) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// -------------------------------------------------------------------------
// CLI Surface (server harness) — spec.md Section 6
// -------------------------------------------------------------------------

// runCLI reads commands from r (one per line, "#" starts a comment) and
// dispatches them against store/srv until EOF, "quit", "exit", or "\q".
// Grounded on srx-server's rpkirtr_svr.c command loop.
func runCLI(ctx context.Context, r io.Reader, store *cachestore.Store, srv *rtrserver.Server, logger *slog.Logger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if quit := dispatchCommand(line, store, srv, logger); quit {
			return
		}
	}
}

// dispatchCommand executes one CLI line. It returns true when the session
// should terminate (quit/exit/\q).
func dispatchCommand(line string, store *cachestore.Store, srv *rtrserver.Server, logger *slog.Logger) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "quit", "exit", `\q`:
		return true

	case "verbose":
		fmt.Println("verbose mode is not configurable over this CLI; see log.level")

	case "version":
		fmt.Println("rtrd (RFC 6810/8210 RTR cache session core)")

	case "help", `\h`:
		printHelp()

	case "credits":
		fmt.Println("rtrd: an RPKI-to-Router cache session core")

	case "cache":
		printCache(store)

	case "clients":
		printClients(srv)

	case "empty":
		store.Clear()
		fmt.Println("cache emptied")

	case "sessionID":
		handleSessionID(rest, store)

	case "add":
		if err := addPrefixLine(rest, store); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			break
		}
		srv.MarkDirty()

	case "addNow":
		if err := addPrefixLine(rest, store); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			break
		}
		srv.Notify()

	case "append":
		if err := appendPrefixFile(rest, store); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			break
		}
		srv.MarkDirty()

	case "remove":
		if err := removeRange(rest, store); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			break
		}
		srv.MarkDirty()

	case "removeNow":
		if err := removeRange(rest, store); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			break
		}
		srv.Notify()

	case "error":
		if err := issueErrorReport(rest, srv); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		}

	case "notify":
		srv.Notify()

	case "reset":
		srv.Reset()

	case "run":
		runScript(rest, store, srv, logger)

	case "sleep":
		pauseExecution(rest)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (try 'help')\n", cmd)
	}
	return false
}

func printHelp() {
	fmt.Println(`verbose | cache | version | help [cmd] | credits | sessionID [n|reset] | empty |
append <file> | add <prefix> <maxlen> <asn> | addNow ... | remove <i>[..<j>] | removeNow ... |
error <code> <pdu|-> <msg|-> | notify | reset | clients | run <file> | sleep <sec> | quit|exit|\q`)
}

func printCache(store *cachestore.Store) {
	entries := store.AnnouncedEntries()
	fmt.Printf("cache: session=%#x max_serial=%d entries=%d\n", store.SessionID(), store.MaxSerial(), len(entries))
	for i, e := range entries {
		switch e.Kind {
		case cachestore.KindVPOR:
			var addr netip.Addr
			if e.VPOR.AFI == 4 {
				var b [4]byte
				copy(b[:], e.VPOR.Prefix[:4])
				addr = netip.AddrFrom4(b)
			} else {
				addr = netip.AddrFrom16(e.VPOR.Prefix)
			}
			fmt.Printf("  [%d] serial=%d %s/%d-%d asn=%d\n", i, e.Serial, addr, e.VPOR.PrefixLen, e.VPOR.MaxLen, e.VPOR.OriginASN)
		case cachestore.KindRouterKey:
			fmt.Printf("  [%d] serial=%d router-key asn=%d ski=%x\n", i, e.Serial, e.RouterKey.ASN, e.RouterKey.SKI)
		case cachestore.KindASPA:
			fmt.Printf("  [%d] serial=%d aspa customer=%d providers=%v\n", i, e.Serial, e.ASPA.CustomerASN, e.ASPA.ProviderASNs)
		}
	}
}

func printClients(srv *rtrserver.Server) {
	clients := srv.Clients()
	fmt.Printf("%d client(s) connected\n", len(clients))
	for _, c := range clients {
		fmt.Printf("  #%d %s last_served_serial=%d\n", c.ID, c.RemoteAddr, c.LastServedSerial)
	}
}

func handleSessionID(arg string, store *cachestore.Store) {
	switch {
	case arg == "" || arg == "reset":
		id, err := randomSessionID()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			return
		}
		store.ResetSession(id)
		fmt.Printf("session id reset to %#x\n", id)

	default:
		n, err := strconv.ParseUint(arg, 0, 16)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: invalid session id %q: %v\n", arg, err)
			return
		}
		store.ResetSession(uint16(n))
		fmt.Printf("session id set to %#x\n", uint16(n))
	}
}

// addPrefixLine parses "prefix maxlen asn" (e.g. "10.0.0.0/24 24 65000") and
// appends it as a VPOR record.
func addPrefixLine(line string, store *cachestore.Store) error {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return fmt.Errorf("add: want '<prefix> <maxlen> <asn>', got %q", line)
	}
	return appendVPORFields(fields, store)
}

func appendVPORFields(fields []string, store *cachestore.Store) error {
	prefix, err := netip.ParsePrefix(fields[0])
	if err != nil {
		return fmt.Errorf("parse prefix %q: %w", fields[0], err)
	}
	maxLen, err := strconv.ParseUint(fields[1], 10, 8)
	if err != nil {
		return fmt.Errorf("parse maxlen %q: %w", fields[1], err)
	}
	asn, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return fmt.Errorf("parse asn %q: %w", fields[2], err)
	}

	v := cachestore.VPOR{
		PrefixLen: uint8(prefix.Bits()),
		MaxLen:    uint8(maxLen),
		OriginASN: uint32(asn),
	}
	if prefix.Addr().Is4() {
		v.AFI = 4
		b := prefix.Addr().As4()
		copy(v.Prefix[:4], b[:])
	} else {
		v.AFI = 6
		v.Prefix = prefix.Addr().As16()
	}
	store.AppendVPOR(v)
	return nil
}

// appendPrefixFile reads one "prefix maxlen asn" entry per line from path.
func appendPrefixFile(path string, store *cachestore.Store) error {
	if path == "" {
		return errors.New("append: missing file path")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return fmt.Errorf("malformed line %q", line)
		}
		if err := appendVPORFields(fields, store); err != nil {
			return err
		}
		n++
	}
	fmt.Printf("appended %d entries from %s\n", n, path)
	return sc.Err()
}

// removeRange withdraws announced entries at indices i (or i..j inclusive)
// into AnnouncedEntries().
func removeRange(arg string, store *cachestore.Store) error {
	lo, hi, err := parseRange(arg)
	if err != nil {
		return err
	}
	entries := store.AnnouncedEntries()
	if hi >= len(entries) {
		return fmt.Errorf("index %d out of range (have %d entries)", hi, len(entries))
	}
	now := time.Now()
	for i := lo; i <= hi; i++ {
		store.Withdraw(entries[i].Serial, now)
	}
	return nil
}

func parseRange(arg string) (lo, hi int, err error) {
	lo64, hi64 := int64(-1), int64(-1)
	if before, after, found := strings.Cut(arg, ".."); found {
		lo64, err = strconv.ParseInt(before, 10, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("parse range start %q: %w", before, err)
		}
		hi64, err = strconv.ParseInt(after, 10, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("parse range end %q: %w", after, err)
		}
	} else {
		lo64, err = strconv.ParseInt(arg, 10, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("parse index %q: %w", arg, err)
		}
		hi64 = lo64
	}
	if lo64 < 0 || hi64 < lo64 {
		return 0, 0, fmt.Errorf("invalid range %q", arg)
	}
	return int(lo64), int(hi64), nil
}

// issueErrorReport parses "<code> <pdu|-> <msg|->" and broadcasts an Error
// Report PDU to all connected clients. The encapsulated PDU field is
// unsupported from the CLI (only "-" is accepted) since its hex encoding
// here would have no value over simply omitting it.
func issueErrorReport(arg string, srv *rtrserver.Server) error {
	fields := strings.SplitN(arg, " ", 3)
	if len(fields) < 3 {
		return fmt.Errorf("error: want '<code> <pdu|-> <msg|->', got %q", arg)
	}
	code, err := strconv.ParseUint(fields[0], 10, 16)
	if err != nil {
		return fmt.Errorf("parse code %q: %w", fields[0], err)
	}
	if fields[1] != "-" {
		return fmt.Errorf("error: encapsulated pdu is not supported, want '-', got %q", fields[1])
	}
	msg := fields[2]
	if msg == "-" {
		msg = ""
	}
	srv.SendError(rtrwire.ErrorCode(code), msg)
	return nil
}

func runScript(path string, store *cachestore.Store, srv *rtrserver.Server, logger *slog.Logger) {
	if path == "" {
		fmt.Fprintln(os.Stderr, "run: missing script path")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return
	}
	defer f.Close()
	runCLI(context.Background(), f, store, srv, logger)
}

func pauseExecution(arg string) {
	secs, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sleep: invalid duration %q: %v\n", arg, err)
		return
	}
	time.Sleep(time.Duration(secs * float64(time.Second)))
}

// -------------------------------------------------------------------------
// Session ID
// -------------------------------------------------------------------------

func randomSessionID() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("generate session id: %w", err)
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// -------------------------------------------------------------------------
// Systemd Integration
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		return nil
	}

	tickInterval := interval / 2
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// HTTP / Config / Logging
// -------------------------------------------------------------------------

func serveHTTP(ctx context.Context, srv *http.Server) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", srv.Addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
