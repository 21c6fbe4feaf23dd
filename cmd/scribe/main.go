// Package main provides the scribe binary. "scribe serve" runs the HTTP API
// that stores posts and their chunked attachments; the upload, download and
// delete subcommands talk to a running server.
//
// Configuration is loaded once from defaults and SCRIBE_* environment
// variables, validated, and handed to every subcommand.
package main

import (
	"fmt"
	"os"

	"github.com/haukened/scribe/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(2)
	}
	if err := newRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
