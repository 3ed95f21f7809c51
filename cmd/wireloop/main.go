// Package main provides the wireloop CLI: serve a registered service
// catalog over gRPC-over-HTTP/2, print build/version information, or
// list what a given registry/config combination would expose.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wireloop/wireloop/cmd/wireloop/commands"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wireloop",
		Short: "A from-scratch gRPC-over-HTTP/2 server runtime",
		Long: `wireloop runs a registered service catalog over a hand-built HTTP/2
connection runtime - frame codec, HPACK, flow control, and the stream state
machine - instead of wrapping google.golang.org/grpc.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.AddCommand(
		commands.NewServeCommand(),
		commands.NewVersionCommand(version, commit, buildDate),
		commands.NewServicesCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
