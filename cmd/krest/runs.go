package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"krest/config"
	"krest/internal/domain"
	"krest/internal/infra"
	"krest/internal/repository"
)

// runsCmd は --reportDB に記録された過去の実行を表示する。
func runsCmd() *cobra.Command {
	var reportDB, logLevel string
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show runs recorded in the report database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if reportDB == "" {
				return fmt.Errorf("%w: --reportDB is required", domain.ErrInvalidConfig)
			}
			cfg := config.LoadAmbient(logLevel, reportDB)
			ctx := cmd.Context()
			shutdown, err := setupObservability(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer shutdown()

			db, err := infra.NewDB(cfg.ReportDB)
			if err != nil {
				return err
			}
			repo := repository.NewReportRepository(db)
			if err := repo.Migrate(ctx); err != nil {
				return err
			}

			reports, err := repo.FindRecent(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			// テーブル形式で出力
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tSTARTED AT\tSOURCE\tDESTINATION\tMODE\tSUCCEEDED\tATTEMPTED\tERROR")
			fmt.Fprintln(w, "------\t----------\t------\t-----------\t----\t---------\t---------\t-----")
			for _, r := range reports {
				errMsg := "-"
				if r.Error != "" {
					errMsg = r.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					r.RunID,
					r.StartedAt.Format("2006-01-02 15:04:05"),
					orDash(r.SourceHost),
					orDash(r.DestinationHost),
					r.ListOnly,
					r.Counts.Succeeded,
					r.Counts.Attempted,
					errMsg,
				)
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to flush output: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reportDB, "reportDB", "", "Report database: sqlite:<path> or mysql:<dsn> (required)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show")
	cmd.Flags().StringVar(&logLevel, "logLevel", "", "Log level: DEBUG, INFO, WARN, ERROR (or set LOG_LEVEL)")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
