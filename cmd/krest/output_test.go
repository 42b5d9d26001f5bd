package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"krest/config"
	"krest/internal/domain"
)

func TestPrintSourceObjects(t *testing.T) {
	var buf bytes.Buffer
	err := printSourceObjects(&buf, []domain.SourceObject{
		{ClientName: "c1", UUID: "u-1", Alias: "[MyKey]", ObjectType: domain.ObjectTypeSymmetricKey, Algorithm: "AES", Length: "256", Digest: "[TYPE SHA-256 VALUE xcc,x43,x0a,xff]"},
		{ClientName: "c1", UUID: "u-2", Name: "[NAME Name VALUE pw]", ObjectType: domain.ObjectTypeSecretData, Length: "128"},
	})
	if err != nil {
		t.Fatalf("printSourceObjects() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"DIGEST", "[MyKey]", "cc430aff", "Secret Data", "pw"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintDestinationObjects_OwnerNickname(t *testing.T) {
	var buf bytes.Buffer
	err := printDestinationObjects(&buf, []domain.DestinationObject{
		{Name: "MyKey", ID: "id-1", Meta: domain.Meta{OwnerID: "local|u1"}, Fingerprint: "abcd"},
		{Name: "Other", ID: "id-2", Meta: domain.Meta{OwnerID: "local|unknown"}},
	}, map[string]string{"local|u1": "Alice"})
	if err != nil {
		t.Fatalf("printDestinationObjects() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Alice") || !strings.Contains(out, "local|unknown") || !strings.Contains(out, "abcd") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestPrintClients(t *testing.T) {
	var buf bytes.Buffer
	err := printClients(&buf, []domain.Client{
		{Name: "cluster1", ManagedObjectCount: 7, ObjectSummary: "Symmetric Key (4) Secret Data (2) Certificate (1)", Users: []string{"a", "b"}},
	})
	if err != nil {
		t.Fatalf("printClients() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if got := strings.Fields(lines[1]); strings.Join(got, " ") != "cluster1 7 4 2 2" {
		t.Errorf("row = %v", got)
	}
}

func TestDefaultReportPath(t *testing.T) {
	report := &domain.Report{RunID: "0123456789abcdef"}

	cfg := &config.Config{
		ListOnly:    domain.ListOnlyNeither,
		Source:      domain.Credential{Host: "sklm.example.com"},
		Destination: domain.Credential{Host: "CM.Example.com"},
	}
	if got := defaultReportPath(cfg, report); got != "krest-report-cm-example-com-01234567.json" {
		t.Errorf("defaultReportPath() = %q", got)
	}

	cfg.ListOnly = domain.ListOnlySource
	if got := defaultReportPath(cfg, report); got != "krest-report-sklm-example-com-01234567.json" {
		t.Errorf("defaultReportPath() = %q", got)
	}
}

func TestWriteReport(t *testing.T) {
	report := &domain.Report{RunID: "run-1", ListOnly: domain.ListOnlyBoth, Outcomes: []domain.ObjectOutcome{}}

	t.Run("stdout", func(t *testing.T) {
		var buf bytes.Buffer
		if err := writeReport(&buf, &config.Config{ReportPath: "-"}, report); err != nil {
			t.Fatalf("writeReport() error = %v", err)
		}
		var got domain.Report
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("report is not JSON: %v", err)
		}
		if got.RunID != "run-1" {
			t.Errorf("RunID = %q", got.RunID)
		}
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "report.json")
		var buf bytes.Buffer
		if err := writeReport(&buf, &config.Config{ReportPath: path}, report); err != nil {
			t.Fatalf("writeReport() error = %v", err)
		}
		if buf.Len() != 0 {
			t.Error("nothing should be written to stdout")
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("report file: %v", err)
		}
	})
}
