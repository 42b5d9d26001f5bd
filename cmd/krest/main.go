// Package main は krest CLI のエントリポイント。
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"krest/config"
	"krest/internal/domain"
	"krest/internal/infra"
)

const version = "1.0.0"

// 終了コード。
const (
	exitOK             = 0
	exitError          = 1
	exitAuthentication = 2
	exitNetwork        = 3
	exitRetrieval      = 4
	exitPartial        = 5
)

func main() {
	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	stop()
	os.Exit(exitCode(err))
}

// exitCode はエラーの種類を終了コードに変換する。
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, domain.ErrAuthentication):
		return exitAuthentication
	case errors.Is(err, domain.ErrNetwork):
		return exitNetwork
	case errors.Is(err, domain.ErrPartialMigration):
		return exitPartial
	case errors.Is(err, domain.ErrRetrieval):
		return exitRetrieval
	default:
		return exitError
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "krest",
		Short:         "Migrate symmetric keys and secrets from a KMIP key manager to a vault key manager",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(clientsCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(unsealCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "krest version %s\n", version)
		},
	}
}

// setupObservability はトレーサーとロガーを初期化し、終了処理を返す。
// トレーサーはロガー設定の前に初期化する。
func setupObservability(ctx context.Context, cfg *config.Config, stderr io.Writer) (func(), error) {
	shutdown, err := infra.InitTracer(ctx, cfg, version)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracer: %w", err)
	}
	infra.SetupLogger(cfg, stderr)

	return func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			slog.Error("failed to shutdown tracer", "error", err)
		}
	}, nil
}
