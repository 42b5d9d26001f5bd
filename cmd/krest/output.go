package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/gosimple/slug"

	"krest/config"
	"krest/internal/codec"
	"krest/internal/domain"
	"krest/internal/usecase"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
}

// printClients はクライアント一覧を表形式で出力する。
func printClients(w io.Writer, clients []domain.Client) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "CLIENT\tMANAGED OBJECTS\tSYMMETRIC KEYS\tSECRETS\tUSERS")
	for _, c := range clients {
		counts := c.ObjectCounts()
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n",
			c.Name,
			c.ManagedObjectCount,
			counts[domain.ObjectTypeSymmetricKey],
			counts[domain.ObjectTypeSecretData],
			len(c.Users),
		)
	}
	return tw.Flush()
}

// printKeys は鍵一覧 API の結果を表形式で出力する。
func printKeys(w io.Writer, keys []domain.KeyEntry) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ALIAS\tUUID\tKEY STORE\tUSAGE\tTYPE")
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.Alias, k.UUID, orDash(k.KeyStoreName), orDash(k.Usage), k.KeyType)
	}
	return tw.Flush()
}

// printSourceObjects は移行元オブジェクトを表形式で出力する。DIGEST は16進文字列にする。
func printSourceObjects(w io.Writer, objects []domain.SourceObject) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "CLIENT\tUUID\tNAME\tTYPE\tALGORITHM\tLENGTH\tDIGEST")
	for _, o := range objects {
		name := o.Alias
		if o.ObjectType == domain.ObjectTypeSecretData {
			name = codec.ExtractBracketValue(o.Name)
		}
		algorithm := o.Algorithm
		if algorithm == "" {
			algorithm = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.ClientName, o.UUID, name, o.ObjectType.Label(), algorithm, o.Length, codec.DigestHex(o.Digest))
	}
	return tw.Flush()
}

// printDestinationObjects は移行先オブジェクトを表形式で出力する。OWNER はニックネームで表示する。
func printDestinationObjects(w io.Writer, objects []domain.DestinationObject, owners map[string]string) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tID\tTYPE\tALGORITHM\tSIZE\tOWNER\tSHA256 FINGERPRINT")
	for _, o := range objects {
		owner, ok := owners[o.Meta.OwnerID]
		if !ok {
			owner = o.Meta.OwnerID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			o.Name, o.ID, o.ObjectType, o.Algorithm, o.Size, owner, o.Fingerprint)
	}
	return tw.Flush()
}

// printResult は実行結果の一覧と件数を出力する。
func printResult(w io.Writer, cfg *config.Config, result *usecase.MigrationResult) error {
	if result.Source != nil && cfg.ListOnly != domain.ListOnlyNeither {
		fmt.Fprintf(w, "Source objects (%d keys, %d secrets):\n", len(result.Source.Keys), len(result.Source.Secrets))
		if err := printSourceObjects(w, result.Source.Objects()); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}

	if cfg.ListOnly.UsesDestination() && result.Owners != nil {
		fmt.Fprintf(w, "Destination objects (%d):\n", len(result.Destination))
		if err := printDestinationObjects(w, result.Destination, result.Owners); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}

	c := result.Report.Counts
	if cfg.ListOnly.Migrates() {
		fmt.Fprintf(w, "Migrated %d of %d objects (%d assigned to group, %d failed).\n",
			c.Succeeded, c.Attempted, c.GroupAssigned, result.Report.Failed())
	}
	if cfg.ExportFile != "" {
		fmt.Fprintf(w, "Exported %d objects (%d unexportable skipped).\n", c.Exported, c.ExportSkipped)
	}
	return nil
}

// defaultReportPath は接続先ホスト名から既定のレポートファイル名を作る。
func defaultReportPath(cfg *config.Config, report *domain.Report) string {
	host := cfg.Destination.Host
	if !cfg.ListOnly.UsesDestination() || host == "" {
		host = cfg.Source.Host
	}
	runID := report.RunID
	if len(runID) > 8 {
		runID = runID[:8]
	}
	return fmt.Sprintf("krest-report-%s-%s.json", slug.Make(host), runID)
}

// writeReport はレポートをJSONで書き出す。--report が "-" なら標準出力に書く。
func writeReport(stdout io.Writer, cfg *config.Config, report *domain.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	if cfg.ReportPath == "-" {
		_, err := fmt.Fprintln(stdout, string(data))
		return err
	}

	path := cfg.ReportPath
	if path == "" {
		path = defaultReportPath(cfg, report)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
