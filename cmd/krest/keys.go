package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"krest/config"
	"krest/internal/domain"
	"krest/internal/infra"
	"krest/internal/usecase"
)

// keysCmd は移行元の鍵一覧 API で見える鍵を表示し、必要ならサーバ上でのエクスポートを要求する。
func keysCmd() *cobra.Command {
	var (
		f       config.Flags
		aliases []string
	)
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List keys visible through the source key API",
		Long: `List keys visible through the source key API.
Keys created by KMIP clients that are not assigned to a user are not listed here;
use "krest migrate --listOnly source" to see them.
With --export the source server writes an export file for each alias on its own disk.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ListOnly = string(domain.ListOnlySource)
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

			return listKeys(ctx, cfg, aliases, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.SrcHost, "srcHost", "", "Source key manager host")
	flags.StringVar(&f.SrcPort, "srcPort", config.DefaultSourcePort, "Source key manager REST port")
	flags.StringVar(&f.SrcUser, "srcUser", "", "Source user name")
	flags.StringVar(&f.SrcPass, "srcPass", "", "Source password (or set KREST_SRC_PASS)")
	flags.StringVar(&f.SrcUUID, "srcuuid", "", "Only list keys whose UUID contains this value")
	flags.StringSliceVar(&aliases, "export", nil, "Ask the source server to export the key with this alias (repeatable)")
	flags.BoolVar(&f.Insecure, "insecure", false, "Skip TLS certificate verification")
	flags.DurationVar(&f.Timeout, "timeout", config.DefaultTimeout, "HTTP request timeout")
	flags.StringVar(&f.LogLevel, "logLevel", "", "Log level: DEBUG, INFO, WARN, ERROR (or set LOG_LEVEL)")
	return cmd
}

func listKeys(ctx context.Context, cfg *config.Config, aliases []string, stdout io.Writer) error {
	httpOpts := infra.HTTPOptions{Timeout: cfg.Timeout, Insecure: cfg.Insecure}
	srcClient := infra.NewSourceClient(cfg.Source.BaseURL(), httpOpts)
	inventory := usecase.NewKeyInventory(srcClient, usecase.NewSourceSession(cfg.Source, srcClient))

	if len(aliases) > 0 {
		exported, err := inventory.Export(ctx, aliases)
		if printErr := printKeys(stdout, exported); printErr != nil {
			return printErr
		}
		fmt.Fprintf(stdout, "\nExported %d of %d keys on the source server\n", len(exported), len(aliases))
		return err
	}

	keys, err := inventory.List(ctx, cfg.Filter.UUID)
	if err != nil {
		return err
	}
	return printKeys(stdout, keys)
}
