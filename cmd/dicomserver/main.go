// Command dicomserver runs a DICOM SCP: it accepts associations, answers
// C-ECHO verification requests and stores C-STORE instances in memory.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v7"
	"github.com/spf13/cobra"

	"github.com/radwire/dicomnet/interfaces"
	"github.com/radwire/dicomnet/server"
	"github.com/radwire/dicomnet/services"
	"github.com/radwire/dicomnet/types"
)

type config struct {
	ListenAddr             string        `env:"DICOM_LISTEN_ADDR" envDefault:":11112"`
	AETitle                string        `env:"DICOM_AE_TITLE" envDefault:"RADWIRE"`
	MaxPDULength           uint32        `env:"DICOM_MAX_PDU_LENGTH" envDefault:"16384"`
	MaxAssociations        int64         `env:"DICOM_MAX_ASSOCIATIONS" envDefault:"64"`
	IdleTimeout            time.Duration `env:"DICOM_IDLE_TIMEOUT" envDefault:"5m"`
	AllowedCallingAETitles []string      `env:"DICOM_ALLOWED_CALLING_AE_TITLES" envSeparator:","`
	LogLevel               string        `env:"DICOM_LOG_LEVEL" envDefault:"info"`
}

// memStore keeps received instances in memory, keyed by SOP instance UID.
type memStore struct {
	logger *slog.Logger

	mu        sync.RWMutex
	instances map[string][]byte
}

func newMemStore(logger *slog.Logger) *memStore {
	return &memStore{
		logger:    logger,
		instances: make(map[string][]byte),
	}
}

func (s *memStore) HandleDIMSE(ctx context.Context, mctx *interfaces.MessageContext, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	s.mu.Lock()
	s.instances[msg.AffectedSOPInstanceUID] = data
	total := len(s.instances)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Instance stored",
		"sop_class", msg.AffectedSOPClassUID,
		"sop_instance", msg.AffectedSOPInstanceUID,
		"size", len(data),
		"total_instances", total,
		"calling_ae", mctx.CallingAETitle)

	return services.NewCStoreResponse(msg, types.StatusSuccess), nil, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(cfg config) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	registry := services.NewRegistry(logger)
	registry.RegisterHandler(types.CEchoRQ, services.NewEchoService(logger))
	registry.RegisterHandler(types.CStoreRQ, newMemStore(logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMaxPDULength(cfg.MaxPDULength),
		server.WithMaxAssociations(cfg.MaxAssociations),
		server.WithIdleTimeout(cfg.IdleTimeout),
	}
	if len(cfg.AllowedCallingAETitles) > 0 {
		opts = append(opts, server.WithAllowedCallingAETitles(cfg.AllowedCallingAETitles))
	}

	err := server.ListenAndServe(ctx, cfg.ListenAddr, cfg.AETitle, registry, opts...)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "invalid environment configuration:", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:          "dicomserver",
		Short:        "DICOM storage and verification SCP",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	root.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "listen address")
	root.Flags().StringVar(&cfg.AETitle, "ae-title", cfg.AETitle, "application entity title")
	root.Flags().Uint32Var(&cfg.MaxPDULength, "max-pdu", cfg.MaxPDULength, "maximum PDU body length in bytes")
	root.Flags().Int64Var(&cfg.MaxAssociations, "max-associations", cfg.MaxAssociations, "maximum concurrent associations")
	root.Flags().DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "idle association timeout")
	root.Flags().StringSliceVar(&cfg.AllowedCallingAETitles, "allowed-calling-ae", cfg.AllowedCallingAETitles, "calling AE titles allowed to associate (empty allows any)")
	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
