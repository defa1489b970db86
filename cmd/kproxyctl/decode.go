package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/kproxy/internal/config"
	"github.com/danmuck/kproxy/internal/filter"
	"github.com/danmuck/kproxy/internal/observability"
	"github.com/danmuck/kproxy/internal/protocol/schema"
	"github.com/danmuck/kproxy/internal/protocol/stream"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type decodeFlags struct {
	File        string
	Hex         bool
	Chunk       int
	ConfigPath  string
	MetricsAddr string
}

func newDecodeCmd() *cobra.Command {
	flags := &decodeFlags{}
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Feed a captured request stream through the filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(cmd, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.File, "file", "f", "-", "capture file, - for stdin")
	cmd.Flags().BoolVar(&flags.Hex, "hex", false, "input is hex text")
	cmd.Flags().IntVar(&flags.Chunk, "chunk", 0, "feed size in bytes, 0 feeds the whole capture")
	cmd.Flags().StringVarP(&flags.ConfigPath, "config", "c", "", "filter config file")
	cmd.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve /metrics here and wait for a signal after decoding")
	return cmd
}

func runDecode(cmd *cobra.Command, flags *decodeFlags) error {
	if flags.Chunk < 0 {
		return fmt.Errorf("chunk must not be negative")
	}
	cfg := config.DefaultFilterConfig()
	if flags.ConfigPath != "" {
		loaded, err := config.LoadFilterConfig(flags.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
		if !cmd.Flags().Changed("log-level") {
			if err := applyLogLevel(cfg.LogLevel); err != nil {
				return err
			}
		}
	}
	if flags.MetricsAddr != "" {
		cfg.MetricsAddr = flags.MetricsAddr
	}

	data, err := readCapture(cmd.InOrStdin(), flags.File, flags.Hex)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	f := filter.New(filter.Options{
		Name:        cfg.Name,
		Registry:    schema.NewRegistry(cfg.RegistryOptions()...),
		Limits:      cfg.Limits(),
		LogFailures: cfg.LogFailures,
	}, stream.DispatcherFuncs{
		Message: func(msg stream.Message) { fmt.Fprintln(out, formatMessage(msg)) },
		Failure: func(failure stream.ParseFailure) { fmt.Fprintln(out, formatFailure(failure)) },
	})

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		srv = serveMetrics(cfg.MetricsAddr)
	}

	status := feed(f, data, flags.Chunk)
	stats := f.Stats()
	fmt.Fprintf(out, "consumed=%d messages=%d failures=%d status=%s\n",
		stats.BytesConsumed, stats.Messages, stats.Failures, status)

	if srv != nil {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		<-ctx.Done()
		stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}

	if status == filter.Close {
		return fmt.Errorf("stream desynchronized after %d bytes", stats.BytesConsumed)
	}
	if int(stats.BytesConsumed) != len(data) {
		return fmt.Errorf("capture ends mid-message: %d of %d bytes framed", stats.BytesConsumed, len(data))
	}
	return nil
}

func feed(f *filter.Filter, data []byte, chunk int) filter.Status {
	if chunk == 0 {
		chunk = len(data)
	}
	for off := 0; off < len(data); off += chunk {
		if status := f.OnData(data[off:min(off+chunk, len(data))]); status == filter.Close {
			return status
		}
	}
	return filter.Continue
}

func readCapture(stdin io.Reader, path string, isHex bool) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}
	if !isHex {
		return data, nil
	}
	decoded, err := hex.DecodeString(string(bytes.Join(bytes.Fields(data), nil)))
	if err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}
	return decoded, nil
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           observability.RequestLogger(observability.ComponentLogger("metrics"), mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	return srv
}

func formatMessage(msg stream.Message) string {
	h := msg.Header
	return fmt.Sprintf("message corr=%d api=%s(%d) v%d len=%d client=%s body=%+v",
		h.CorrelationID, schema.Name(h.APIKey), h.APIKey, h.APIVersion, h.Length, clientID(h.ClientID), msg.Body)
}

func formatFailure(failure stream.ParseFailure) string {
	h := failure.Header
	return fmt.Sprintf("failure corr=%d api=%s(%d) v%d len=%d reason=%s raw=%s err=%v",
		h.CorrelationID, schema.Name(h.APIKey), h.APIKey, h.APIVersion, h.Length,
		failure.Reason, hex.EncodeToString(failure.Raw), failure.Err)
}

func clientID(id *string) string {
	if id == nil {
		return "<null>"
	}
	return fmt.Sprintf("%q", *id)
}
