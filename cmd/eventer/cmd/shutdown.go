package cmd

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/tsarna/eventer/pkg/eventer/kinds"
	"github.com/tsarna/eventer/pkg/eventer/wire"
)

var (
	shutdownAddr        string
	shutdownConfigPaths []string
	shutdownTimeout     time.Duration
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Ask a running gateway to shut down",
	Long: `Perform the shutdown handshake against a running gateway: request a
challenge key, answer it encrypted with the configured secrets and wait for
the acknowledgement.

--addr is either host:port for the TCP listener or a ws:// URL for the
WebSocket endpoint.

Examples:
  eventer shutdown --config eventer.hcl --addr localhost:9234
  eventer shutdown --config eventer.hcl --addr ws://localhost:9235/ws`,
	Args: cobra.NoArgs,
	RunE: runShutdown,
}

func init() {
	rootCmd.AddCommand(shutdownCmd)

	shutdownCmd.Flags().StringVar(&shutdownAddr, "addr", "localhost:9234", "gateway address")
	shutdownCmd.Flags().StringSliceVarP(&shutdownConfigPaths, "config", "c", nil, "configuration files or directories")
	shutdownCmd.Flags().DurationVar(&shutdownTimeout, "timeout", 10*time.Second, "total operation timeout")
	_ = shutdownCmd.MarkFlagRequired("config")
}

func runShutdown(cmd *cobra.Command, args []string) error {
	translator, err := translatorFromConfig(shutdownConfigPaths)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), shutdownTimeout)
	defer cancel()

	conn, err := dialGateway(ctx, shutdownAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", shutdownAddr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	reader := wire.NewReader(conn, 0)
	expect := func() (string, error) {
		for {
			frame, err := reader.ReadFrame()
			if err != nil {
				return "", err
			}
			if frame.Code == kinds.Shutdown.Code() {
				return frame.Text, nil
			}
		}
	}

	if err := wire.Write(conn, kinds.Shutdown.Code(), ""); err != nil {
		return fmt.Errorf("failed to request shutdown key: %w", err)
	}
	key, err := expect()
	if err != nil {
		return fmt.Errorf("no shutdown key received: %w", err)
	}

	answer, err := translator.Encrypt(key)
	if err != nil {
		return err
	}
	if err := wire.Write(conn, kinds.Shutdown.Code(), answer); err != nil {
		return fmt.Errorf("failed to send shutdown answer: %w", err)
	}

	ack, err := expect()
	if err != nil {
		return fmt.Errorf("shutdown not acknowledged (wrong secrets?): %w", err)
	}
	if ack != "shutdownOK" {
		return fmt.Errorf("unexpected shutdown reply %q", ack)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Shutdown acknowledged")
	return nil
}

func dialGateway(ctx context.Context, addr string) (net.Conn, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		ws, _, err := websocket.Dial(ctx, addr, nil)
		if err != nil {
			return nil, err
		}
		return websocket.NetConn(context.Background(), ws, websocket.MessageBinary), nil
	}

	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}
