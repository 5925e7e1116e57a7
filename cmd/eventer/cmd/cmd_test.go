package cmd

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tsarna/eventer/pkg/eventer/backend"
	"github.com/tsarna/eventer/pkg/eventer/credential"
	"github.com/tsarna/eventer/pkg/eventer/message"
	"github.com/tsarna/eventer/pkg/eventer/server"
	"github.com/tsarna/eventer/pkg/eventer/session"
)

const testConfig = `
secrets {
  master_key = "Carab!"
  salt       = "EventerKOD"
  pepper     = "#Test~"
}

backend "memory" {}
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eventer.hcl")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// Slice flags append once set; clear them so each run starts fresh.
	for _, f := range []*pflag.Flag{
		tokenCmd.PersistentFlags().Lookup("config"),
		shutdownCmd.Flags().Lookup("config"),
	} {
		require.NoError(t, f.Value.(pflag.SliceValue).Replace(nil))
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestTokenRoundTrip(t *testing.T) {
	path := writeConfig(t)

	token, err := execute(t, "token", "encrypt", "--config", path, "soap-credential")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	plain, err := execute(t, "token", "decrypt", "--config", path, token)
	require.NoError(t, err)
	assert.Equal(t, "soap-credential", plain)
}

func TestTokenDecryptRejectsGarbage(t *testing.T) {
	path := writeConfig(t)

	_, err := execute(t, "token", "decrypt", "--config", path, "!!not-base64!!")
	assert.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	defer func() { logLevel, verbose, debug = "info", false, false }()

	logLevel = "warn"
	logger, err := setupLogger()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logLevel, verbose = "info", true
	logger, err = setupLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logLevel, verbose = "chatty", false
	_, err = setupLogger()
	assert.Error(t, err)
}

func TestShutdownClient(t *testing.T) {
	tr, err := credential.NewTranslator(credential.Secrets{MasterKey: "Carab!", Salt: "EventerKOD", Pepper: "#Test~"})
	require.NoError(t, err)

	registry, err := session.NewRegistry(session.Config{
		Decrypter: tr,
		Validator: backend.NewMemory(),
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	defer registry.Close()

	var shutdowns atomic.Int32
	dispatcher, err := message.NewDispatcher(message.Config{
		Registry:   registry,
		Backend:    backend.NewMemory(),
		Decrypter:  tr,
		OnShutdown: func() { shutdowns.Add(1) },
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	registry.SetPoller(dispatcher)

	listener, err := server.NewListenerConfig().
		WithRegistry(registry).
		WithDispatcher(dispatcher).
		WithLogger(zap.NewNop()).
		Build()
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = listener.Serve(ctx, ln) }()

	out, err := execute(t, "shutdown", "--config", writeConfig(t), "--addr", ln.Addr().String(), "--timeout", "5s")
	require.NoError(t, err)
	assert.Equal(t, "Shutdown acknowledged", out)
	assert.Equal(t, int32(1), shutdowns.Load())

	shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	assert.NoError(t, listener.Shutdown(shutdownCtx))
}
