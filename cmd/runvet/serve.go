package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/runvet/runvet/api"
	"github.com/runvet/runvet/internal/config"
)

var (
	newServer = api.NewServer
	runServer = (*api.Server).Run
)

func newServeCmd(st *cliState) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve evaluation history over HTTP",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(st.configPath)
			if err != nil {
				return err
			}
			st.cfg = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(st, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func runServe(st *cliState, addr string) error {
	stor, err := openStore(st.cfg)
	if err != nil {
		return err
	}
	defer stor.Close()

	srv, err := newServer(st.cfg, stor)
	if err != nil {
		return err
	}

	addr = strings.TrimSpace(addr)
	if addr == "" && st.cfg != nil {
		addr = st.cfg.Server.Addr
	}
	return runServer(srv, addr)
}
