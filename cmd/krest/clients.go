package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"krest/config"
	"krest/internal/infra"
	"krest/internal/usecase"
)

// clientsCmd は移行元のクライアント一覧を表示する。
func clientsCmd() *cobra.Command {
	var f config.Flags
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "List source clients with their object counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ListSrcClients = true
			cfg, err := config.Load(f)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			shutdown, err := setupObservability(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer shutdown()

			return listClients(ctx, cfg, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.SrcHost, "srcHost", "", "Source key manager host")
	flags.StringVar(&f.SrcPort, "srcPort", config.DefaultSourcePort, "Source key manager REST port")
	flags.StringVar(&f.SrcUser, "srcUser", "", "Source user name")
	flags.StringVar(&f.SrcPass, "srcPass", "", "Source password (or set KREST_SRC_PASS)")
	flags.BoolVar(&f.Insecure, "insecure", false, "Skip TLS certificate verification")
	flags.DurationVar(&f.Timeout, "timeout", config.DefaultTimeout, "HTTP request timeout")
	flags.StringVar(&f.LogLevel, "logLevel", "", "Log level: DEBUG, INFO, WARN, ERROR (or set LOG_LEVEL)")
	return cmd
}

func listClients(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	httpOpts := infra.HTTPOptions{Timeout: cfg.Timeout, Insecure: cfg.Insecure}
	srcClient := infra.NewSourceClient(cfg.Source.BaseURL(), httpOpts)
	reader := usecase.NewSourceReader(srcClient, usecase.NewSourceSession(cfg.Source, srcClient), cfg.Source.Username, false, cfg.DetailFailure)

	clients, err := reader.ListClients(ctx)
	if err != nil {
		return err
	}
	return printClients(stdout, clients)
}
