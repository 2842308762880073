// SPDX-License-Identifier: GPL-2.0-or-later

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ehstools/nasabridge/pkg/capture"
	"github.com/ehstools/nasabridge/pkg/config"
	"github.com/ehstools/nasabridge/pkg/nasa"
)

var dumpOutput string

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Capture raw field-bus traffic to a dump file",
	Long: `Read from the field bus and append every received chunk to a dump file,
hex-encoded one chunk per line, without publishing anything. The capture can
be replayed later with the replay command.`,
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringVarP(&dumpOutput, "output", "o", "", "Dump file to write (required)")
	dumpCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	out, err := capture.OpenDump(dumpOutput)
	if err != nil {
		return err
	}
	defer out.Close()

	fmt.Printf("Capturing %s to %s\n", connInfo, dumpOutput)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	// Close the transport on Ctrl+C to unblock the read loop.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sig:
			conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	dec := nasa.NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			break
		}
		if n == 0 {
			continue
		}
		if err := out.WriteFrame(buf[:n]); err != nil {
			return err
		}

		// Decode for the running tally only
		dec.Feed(buf[:n])
		for {
			pkt, err := dec.Next()
			if err != nil {
				continue
			}
			if pkt == nil {
				break
			}
		}
	}

	stats := dec.Stats()
	fmt.Printf("\nCaptured %d packets (%d framing errors, %d checksum errors, %d bytes dropped)\n",
		stats.Packets, stats.FramingErrors, stats.ChecksumErrors, stats.BytesDropped)
	return nil
}
