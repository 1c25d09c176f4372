// Command dicomecho verifies connectivity to a DICOM SCP with a C-ECHO.
// It exits 0 when the peer answers with success and 1 on connection,
// negotiation or verification failure.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/radwire/dicomnet/client"
	"github.com/radwire/dicomnet/types"
)

func main() {
	var (
		callingAE string
		calledAE  string
		timeout   time.Duration
		verbose   bool
	)

	root := &cobra.Command{
		Use:          "dicomecho <host:port>",
		Short:        "Send a C-ECHO verification request to a DICOM SCP",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			address := args[0]
			if !strings.Contains(address, ":") {
				address += ":11112"
			}

			c, err := client.Connect(address, client.Config{
				CallingAETitle: callingAE,
				CalledAETitle:  calledAE,
				ConnectTimeout: timeout,
				DIMSETimeout:   timeout,
				Logger:         logger,
			})
			if err != nil {
				return fmt.Errorf("association failed: %w", err)
			}
			defer c.Close()

			start := time.Now()
			rsp, err := c.SendCEcho()
			if err != nil {
				return fmt.Errorf("echo failed: %w", err)
			}
			if rsp.Status != types.StatusSuccess {
				return fmt.Errorf("echo answered with status 0x%04X", rsp.Status)
			}

			fmt.Printf("C-ECHO to %s (%s) succeeded in %s\n", address, calledAE, time.Since(start).Round(time.Millisecond))
			return c.Release()
		},
	}

	root.Flags().StringVar(&callingAE, "calling-ae", "DICOMECHO", "calling AE title")
	root.Flags().StringVar(&calledAE, "called-ae", "ANY-SCP", "called AE title")
	root.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "connect and response timeout")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
