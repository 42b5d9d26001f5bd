package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"krest/config"
	"krest/internal/domain"
	"krest/internal/infra"
	"krest/internal/repository"
	"krest/internal/usecase"
)

// migrateCmd は移行コマンド。--listOnly で読み出しと一覧表示だけを行う。
func migrateCmd() *cobra.Command {
	var f config.Flags
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate keys (and optionally secrets) from the source to the destination",
		Long: `Reads symmetric keys (and secret data with --includeSecrets) from the source
KMIP key manager, uploads them to the destination vault, optionally assigns them
to a user group, then reads the destination back and lists what it holds.

Use --listOnly to only list objects without writing anything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if cfg.ListSrcClients {
				return listClients(ctx, cfg, cmd.OutOrStdout())
			}
			return runMigrate(ctx, cfg, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.SrcHost, "srcHost", "", "Source key manager host")
	flags.StringVar(&f.SrcPort, "srcPort", config.DefaultSourcePort, "Source key manager REST port")
	flags.StringVar(&f.SrcUser, "srcUser", "", "Source user name")
	flags.StringVar(&f.SrcPass, "srcPass", "", "Source password (or set KREST_SRC_PASS)")
	flags.StringVar(&f.DstHost, "dstHost", "", "Destination vault host")
	flags.StringVar(&f.DstPort, "dstPort", config.DefaultDestinationPort, "Destination vault REST port")
	flags.StringVar(&f.DstUser, "dstUser", "", "Destination user name")
	flags.StringVar(&f.DstPass, "dstPass", "", "Destination password (or set KREST_DST_PASS)")
	flags.StringVar(&f.ListOnly, "listOnly", string(domain.ListOnlyNeither), "List without migrating: neither, source, destination, both")
	flags.StringVar(&f.SrcUUID, "srcuuid", "", "Only objects whose UUID contains this string")
	flags.StringVar(&f.NetAppNodeID, "netAppNodeID", "", "Only objects with this x-NETAPP-NodeId")
	flags.StringVar(&f.NetAppCluster, "netAppClusterName", "", "Only objects with this x-NETAPP-ClusterName")
	flags.StringVar(&f.NetAppVserverID, "netAppVserverID", "", "Only objects with this x-NETAPP-VserverId")
	flags.StringVar(&f.DstUserGroupName, "dstUserGroupName", "", "Assign migrated objects to this destination user group")
	flags.StringVar(&f.SrcClientName, "srcClientName", "", "Only objects of this source client")
	flags.BoolVar(&f.ListSrcClients, "listSrcClients", false, "List source clients and exit")
	flags.BoolVar(&f.ResolveOwnership, "resolveSrcClientOwnership", false, "Temporarily add the source user to clients it is not assigned to")
	flags.BoolVar(&f.IncludeSecrets, "includeSecrets", false, "Also migrate secret data objects")
	flags.BoolVar(&f.Insecure, "insecure", false, "Skip TLS certificate verification")
	flags.DurationVar(&f.Timeout, "timeout", config.DefaultTimeout, "HTTP request timeout")
	flags.StringVar(&f.ReportPath, "report", "", "Write the JSON run report to this path (- for stdout)")
	flags.StringVar(&f.ReportDB, "reportDB", "", "Also record the run in a database: sqlite:<path> or mysql:<dsn>")
	flags.StringVar(&f.ExportFile, "exportFile", "", "Export destination key material into this KMS-sealed file")
	flags.StringVar(&f.DetailFailure, "detailFailure", string(config.DefaultDetailFailure), "On object detail failure: abort-client or abort-run")
	flags.BoolVar(&f.WarnUnknownUsage, "warnUnknownUsage", false, "Log a warning for unknown usage mask tokens")
	flags.StringVar(&f.LogLevel, "logLevel", "", "Log level: DEBUG, INFO, WARN, ERROR (or set LOG_LEVEL)")
	return cmd
}

// app は1回の実行で使う依存関係をまとめる。
type app struct {
	reader  *usecase.SourceReader
	writer  *usecase.DestinationWriter
	service *usecase.MigrationService
	reports *repository.ReportRepository
}

// newApp は設定から依存関係を組み立てる。
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	httpOpts := infra.HTTPOptions{Timeout: cfg.Timeout, Insecure: cfg.Insecure}

	srcClient := infra.NewSourceClient(cfg.Source.BaseURL(), httpOpts)
	reader := usecase.NewSourceReader(
		srcClient,
		usecase.NewSourceSession(cfg.Source, srcClient),
		cfg.Source.Username,
		cfg.ResolveOwnership,
		cfg.DetailFailure,
	)

	dstClient := infra.NewDestinationClient(cfg.Destination.BaseURL(), httpOpts)
	writer := usecase.NewDestinationWriter(dstClient, usecase.NewDestinationSession(cfg.Destination, dstClient))

	a := &app{reader: reader, writer: writer}

	var reports usecase.ReportRepository
	if cfg.ReportDB != "" {
		db, err := infra.NewDB(cfg.ReportDB)
		if err != nil {
			return nil, err
		}
		a.reports = repository.NewReportRepository(db)
		if err := a.reports.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("preparing report database: %w", err)
		}
		reports = a.reports
	}

	a.service = usecase.NewMigrationService(reader, writer, usecase.NewMapper(unknownUsageHook(cfg.WarnUnknownUsage)), reports)
	return a, nil
}

// unknownUsageHook は --warnUnknownUsage 指定時に未知のトークンを警告する。
func unknownUsageHook(warn bool) usecase.UnknownUsageHook {
	if !warn {
		return nil
	}
	return func(src domain.SourceObject, tokens []string) {
		slog.Warn("unknown usage mask tokens dropped",
			"operation", "map",
			"uuid", src.UUID,
			"tokens", tokens,
		)
	}
}

func runMigrate(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	result, runErr := a.service.Run(ctx, usecase.MigrationOptions{
		SourceHost:      cfg.Source.Host,
		DestinationHost: cfg.Destination.Host,
		ListOnly:        cfg.ListOnly,
		Filter:          cfg.Filter,
		GroupName:       cfg.GroupName,
		IncludeSecrets:  cfg.IncludeSecrets,
		Export:          cfg.ExportFile != "",
	})

	reportToStdout := cfg.ReportPath == "-"
	if result != nil && !reportToStdout {
		if err := printResult(stdout, cfg, result); err != nil {
			return err
		}
	}

	if result != nil && result.Report != nil {
		if err := writeReport(stdout, cfg, result.Report); err != nil {
			slog.ErrorContext(ctx, "failed to write run report",
				"operation", "write_report",
				"error", err,
			)
			if runErr == nil {
				runErr = err
			}
		}
	}

	if shouldSealExport(cfg, result, runErr) {
		if err := sealExport(ctx, cfg, result); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	return runErr
}

// shouldSealExport は --exportFile を書くかどうかを返す。
// 一部のアップロードが失敗した実行でも、エクスポート済みの鍵素材があれば書き出す。
func shouldSealExport(cfg *config.Config, result *usecase.MigrationResult, runErr error) bool {
	if cfg.ExportFile == "" || result == nil || result.Report == nil {
		return false
	}
	if runErr == nil {
		return true
	}
	return errors.Is(runErr, domain.ErrPartialMigration) && len(result.Exported.Exported) > 0
}

// kmsCloser はエクスポートファイルの封緘に使うKMSクライアント。
type kmsCloser interface {
	usecase.KMSClient
	Close() error
}

// newKMSClient はKMSクライアントを生成する。テストで差し替える。
var newKMSClient = func(ctx context.Context, keyName string) (kmsCloser, error) {
	c, err := infra.NewKMSClient(ctx, keyName)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// sealExport はエクスポートした鍵素材をKMSで暗号化して --exportFile に書き込む。
func sealExport(ctx context.Context, cfg *config.Config, result *usecase.MigrationResult) error {
	kmsClient, err := newKMSClient(ctx, cfg.KMSKeyName)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := kmsClient.Close(); closeErr != nil {
			slog.Error("failed to close KMS client", "error", closeErr)
		}
	}()

	sealed, err := usecase.NewExportSealer(kmsClient).Seal(ctx, result.Report.RunID, result.Exported.Exported)
	if err != nil {
		return err
	}
	if err := os.WriteFile(cfg.ExportFile, sealed, 0o600); err != nil {
		return fmt.Errorf("writing export file: %w", err)
	}
	slog.InfoContext(ctx, "export file written",
		"operation", "export",
		"path", cfg.ExportFile,
		"count", len(result.Exported.Exported),
	)
	return nil
}
