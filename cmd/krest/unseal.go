package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"krest/config"
	"krest/internal/usecase"
)

// unsealCmd は --exportFile で書き出したファイルをKMSで復号して表示する。
func unsealCmd() *cobra.Command {
	var output, logLevel string
	cmd := &cobra.Command{
		Use:   "unseal <export-file>",
		Short: "Decrypt a sealed export file with Cloud KMS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadAmbient(logLevel, "")
			ctx := cmd.Context()
			shutdown, err := setupObservability(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer shutdown()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading export file: %w", err)
			}

			kmsClient, err := newKMSClient(ctx, cfg.KMSKeyName)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := kmsClient.Close(); closeErr != nil {
					slog.Error("failed to close KMS client", "error", closeErr)
				}
			}()

			sealed, materials, err := usecase.NewExportSealer(kmsClient).Unseal(ctx, data)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(materials)
			}

			fmt.Fprintf(out, "Run %s, exported %s, %d objects\n", sealed.RunID, sealed.CreatedAt.Format("2006-01-02 15:04:05"), sealed.Count)
			w := newTable(out)
			fmt.Fprintln(w, "NAME\tID\tFORMAT\tMATERIAL")
			for _, m := range materials {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, m.ID, m.Format, m.Material)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&output, "output", "text", "Output format: text, json")
	cmd.Flags().StringVar(&logLevel, "logLevel", "", "Log level: DEBUG, INFO, WARN, ERROR (or set LOG_LEVEL)")
	return cmd
}
