// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

// Command mod-spdy runs a standalone SPDY-to-HTTP server: it terminates
// SPDY v2/v3 connections and forwards decoded requests to a static file
// handler, falling back to plain HTTP/1.1 for clients that don't
// negotiate SPDY over NPN.
package main

import (
	"net/http"
	"os"

	"github.com/spf13/cobra"

	spdy "github.com/yitian134/mod-spdy"
)

var (
	addr       string
	certFile   string
	keyFile    string
	root       string
	configPath string
	devLog     bool
)

func main() {
	cmd := &cobra.Command{
		Use:   "mod-spdy",
		Short: "Run a standalone SPDY server",
		RunE:  run,
	}
	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", ":https", "address to listen on")
	flags.StringVar(&certFile, "cert", "", "TLS certificate file (required)")
	flags.StringVar(&keyFile, "key", "", "TLS private key file (required)")
	flags.StringVar(&root, "root", ".", "directory to serve over the negotiated protocol")
	flags.StringVar(&configPath, "config", "", "optional YAML file overriding the session defaults")
	flags.BoolVar(&devLog, "dev-log", false, "use a human-readable development logger instead of JSON")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if certFile == "" || keyFile == "" {
		return cmd.Help()
	}

	log := spdy.NewProductionLogger()
	if devLog {
		log = spdy.NewDevelopmentLogger()
	}

	cfg := spdy.DefaultConfig()
	if configPath != "" {
		loaded, err := spdy.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	srv := &spdy.Server{
		Addr:            addr,
		Handler:         http.FileServer(http.Dir(root)),
		FallbackHandler: http.FileServer(http.Dir(root)),
		Config:          cfg,
		Log:             log,
	}
	log.Infow("starting mod-spdy", "addr", addr, "root", root)
	return srv.ListenAndServeTLS(certFile, keyFile)
}
