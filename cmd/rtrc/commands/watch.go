package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bgpsrx/rtrsec/internal/rtrclient"
	"github.com/bgpsrx/rtrsec/internal/rtrwire"
)

func watchCmd() *cobra.Command {
	var (
		initialVersion uint8
		allowDowngrade bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect to an RTR cache and stream session events",
		Long:  "Dials the cache's RTR listener and prints FSM transitions and cache records as they arrive, until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", serverAddr)
			if err != nil {
				return fmt.Errorf("dial %s: %w", serverAddr, err)
			}
			defer conn.Close()

			print := func(kind, detail string) {
				out, fmtErr := formatEvent(sessionEvent{Timestamp: time.Now(), Kind: kind, Detail: detail}, outputFormat)
				if fmtErr != nil {
					fmt.Fprintln(os.Stderr, "format error:", fmtErr)
					return
				}
				fmt.Println(out)
			}

			cfg := rtrclient.Config{
				InitialVersion: initialVersion,
				AllowDowngrade: allowDowngrade,
				Callbacks: rtrclient.Callbacks{
					OnIPv4Prefix: func(ann bool, p rtrwire.IPv4Prefix) {
						print("IPv4Prefix", fmt.Sprintf("announce=%v asn=%d prefix=%d.%d.%d.%d/%d-%d",
							ann, p.ASN, p.Addr[0], p.Addr[1], p.Addr[2], p.Addr[3], p.PrefixLen, p.MaxLen))
					},
					OnIPv6Prefix: func(ann bool, p rtrwire.IPv6Prefix) {
						print("IPv6Prefix", fmt.Sprintf("announce=%v asn=%d prefixlen=%d maxlen=%d", ann, p.ASN, p.PrefixLen, p.MaxLen))
					},
					OnRouterKey: func(ann bool, rk rtrwire.RouterKey) {
						print("RouterKey", fmt.Sprintf("announce=%v asn=%d ski=%x", ann, rk.ASN, rk.SKI))
					},
					OnASPA: func(ann bool, a rtrwire.ASPA) {
						print("ASPA", fmt.Sprintf("announce=%v customer=%d providers=%v", ann, a.CustomerASN, a.Providers))
					},
					OnEndOfData: func(sessionID uint16, serial uint32) {
						print("EndOfData", fmt.Sprintf("session=%#x serial=%d", sessionID, serial))
					},
					OnSessionIDChanged: func(old, newID uint16) {
						print("SessionIDChanged", fmt.Sprintf("old=%#x new=%#x", old, newID))
					},
					OnSessionIDEstablished: func(sessionID uint16) {
						print("SessionIDEstablished", fmt.Sprintf("session=%#x", sessionID))
					},
					OnError: func(code rtrwire.ErrorCode, msg string) {
						print("Error", fmt.Sprintf("code=%s msg=%q", code, msg))
					},
					OnStateChange: func(change rtrclient.StateChange) {
						print("StateChange", fmt.Sprintf("%s -> %s", change.OldState, change.NewState))
					},
				},
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			session := rtrclient.NewSession(conn, cfg, logger)

			err = session.Run(ctx)
			if err != nil && (errors.Is(err, context.Canceled) || ctx.Err() != nil) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().Uint8Var(&initialVersion, "version", 1, "initial RTR protocol version to offer")
	cmd.Flags().BoolVar(&allowDowngrade, "allow-downgrade", true, "permit adopting a lower version offered by the cache")

	return cmd
}
