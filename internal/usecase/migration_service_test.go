package usecase

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"krest/internal/domain"
	"krest/internal/middleware"
)

// mockReportRepository は保存されたレポートを保持する。
type mockReportRepository struct {
	saved []*domain.Report
	err   error
}

func (m *mockReportRepository) Save(ctx context.Context, report *domain.Report) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, report)
	return nil
}

type migrationFixture struct {
	src     *mockSourceAPI
	dst     *mockDestinationAPI
	reports *mockReportRepository
	service *MigrationService
}

func newMigrationFixture(detailFailure domain.DetailFailure) *migrationFixture {
	src := newMockSourceAPI()
	src.clients = []domain.Client{
		{Name: "c1", ObjectSummary: "Symmetric Key (2) Secret Data (1)"},
	}
	src.addObject("c1", sourceKey("k-1", "one", "[[NAME x-NETAPP-NodeId] [INDEX 0] [TYPE Text] [VALUE n1]]"))
	src.addObject("c1", sourceKey("k-2", "two", "[[NAME x-NETAPP-NodeId] [INDEX 0] [TYPE Text] [VALUE n2]]"))
	src.addObject("c1", sourceSecret("s-1", "pw"))

	dst := newMockDestinationAPI()
	reports := &mockReportRepository{}

	reader := NewSourceReader(src, &staticTokenSource{}, "admin", false, detailFailure)
	writer := NewDestinationWriter(dst, &staticTokenSource{})
	service := NewMigrationService(reader, writer, NewMapper(nil), reports)

	return &migrationFixture{src: src, dst: dst, reports: reports, service: service}
}

func TestMigrationService_Run_KeysOnly(t *testing.T) {
	f := newMigrationFixture("")

	result, err := f.service.Run(context.Background(), MigrationOptions{ListOnly: domain.ListOnlyNeither})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(f.dst.created) != 2 {
		t.Fatalf("created = %d, want 2 keys", len(f.dst.created))
	}
	for _, obj := range f.dst.created {
		if obj.Meta.OwnerID != "user-1" {
			t.Errorf("owner = %q, want user-1", obj.Meta.OwnerID)
		}
	}

	counts := result.Report.Counts
	if counts.SourceListed != 2 || counts.SourceRetrieved != 2 || counts.Attempted != 2 || counts.Succeeded != 2 {
		t.Errorf("counts = %+v", counts)
	}
	if counts.DestListed != 2 || len(result.Destination) != 2 {
		t.Errorf("destination listed = %d, result = %d, want 2", counts.DestListed, len(result.Destination))
	}
	if len(f.dst.exportCalls) != 0 {
		t.Error("export should not run unless requested")
	}
	if len(f.reports.saved) != 1 || f.reports.saved[0].RunID == "" || f.reports.saved[0].FinishedAt.IsZero() {
		t.Errorf("saved reports = %+v", f.reports.saved)
	}
}

func TestMigrationService_Run_IncludeSecretsWithGroup(t *testing.T) {
	f := newMigrationFixture("")

	result, err := f.service.Run(context.Background(), MigrationOptions{
		ListOnly:       domain.ListOnlyNeither,
		IncludeSecrets: true,
		GroupName:      "netapp",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(f.dst.createdKind) != 3 || f.dst.createdKind[2] != "secret" {
		t.Errorf("createdKind = %v, want keys then secret", f.dst.createdKind)
	}
	if result.Group == nil || !result.Group.Created {
		t.Errorf("Group = %+v, want created group", result.Group)
	}
	// 1件あたり2回の更新
	if len(f.dst.patches) != 6 {
		t.Errorf("patches = %d, want 6", len(f.dst.patches))
	}
	if result.Report.Counts.GroupAssigned != 3 {
		t.Errorf("GroupAssigned = %d, want 3", result.Report.Counts.GroupAssigned)
	}
}

func TestMigrationService_Run_PartialFailure(t *testing.T) {
	f := newMigrationFixture("")
	f.dst.createErr["two"] = &domain.APIError{Kind: domain.ErrUpload, Operation: "create key", StatusCode: 409, Message: "exists"}

	result, err := f.service.Run(context.Background(), MigrationOptions{ListOnly: domain.ListOnlyNeither})
	if !errors.Is(err, domain.ErrPartialMigration) {
		t.Fatalf("Run() error = %v, want ErrPartialMigration", err)
	}
	if result.Report.Counts.Attempted != 2 || result.Report.Counts.Succeeded != 1 {
		t.Errorf("counts = %+v", result.Report.Counts)
	}

	var failed []domain.ObjectOutcome
	for _, o := range result.Report.Outcomes {
		if o.Status == domain.OutcomeFailed {
			failed = append(failed, o)
		}
	}
	if len(failed) != 1 || failed[0].Name != "two" || failed[0].Phase != domain.PhaseUpload {
		t.Errorf("failed outcomes = %+v", failed)
	}
	if result.Report.Error == "" {
		t.Error("report should carry the run error")
	}
}

func TestMigrationService_Run_MappingFailureCountsAsAttempted(t *testing.T) {
	f := newMigrationFixture("")
	bad := sourceKey("k-3", "", "")
	f.src.clients[0].ObjectSummary = "Symmetric Key (3)"
	f.src.addObject("c1", bad)

	result, err := f.service.Run(context.Background(), MigrationOptions{ListOnly: domain.ListOnlyNeither})
	if !errors.Is(err, domain.ErrPartialMigration) {
		t.Fatalf("Run() error = %v, want ErrPartialMigration", err)
	}
	if result.Report.Counts.Attempted != 3 || result.Report.Counts.Succeeded != 2 {
		t.Errorf("counts = %+v", result.Report.Counts)
	}
}

func TestMigrationService_Run_ListOnly(t *testing.T) {
	tests := []struct {
		name        string
		listOnly    domain.ListOnly
		wantSource  bool
		wantDestRun bool
	}{
		{name: "source", listOnly: domain.ListOnlySource, wantSource: true},
		{name: "destination", listOnly: domain.ListOnlyDestination, wantDestRun: true},
		{name: "both", listOnly: domain.ListOnlyBoth, wantSource: true, wantDestRun: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMigrationFixture("")

			result, err := f.service.Run(context.Background(), MigrationOptions{ListOnly: tt.listOnly})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(f.dst.created) != 0 || len(f.dst.patches) != 0 {
				t.Error("list-only run must not write to the destination")
			}
			if (result.Source != nil) != tt.wantSource {
				t.Errorf("Source = %v, want present %v", result.Source, tt.wantSource)
			}
			if (len(f.dst.pageCalls) > 0) != tt.wantDestRun {
				t.Errorf("destination listed = %v, want %v", f.dst.pageCalls, tt.wantDestRun)
			}
		})
	}
}

func TestMigrationService_Run_FilterAppliesToBothSides(t *testing.T) {
	f := newMigrationFixture("")
	filter := domain.Filter{CustomAttributes: map[string]string{domain.NetAppNodeID: "n1"}}

	result, err := f.service.Run(context.Background(), MigrationOptions{ListOnly: domain.ListOnlyNeither, Filter: filter})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(f.dst.created) != 1 || f.dst.created[0].Name != "one" {
		t.Errorf("created = %+v, want only one", f.dst.created)
	}
	if len(result.Destination) != 1 {
		t.Errorf("Destination = %d objects, want 1", len(result.Destination))
	}
	if result.Report.Counts.SourceFiltered != 1 {
		t.Errorf("SourceFiltered = %d, want 1", result.Report.Counts.SourceFiltered)
	}
}

func TestMigrationService_Run_Export(t *testing.T) {
	f := newMigrationFixture("")
	f.dst.objects = []domain.DestinationObject{
		{ID: "x-1", Name: "old", Unexportable: true},
	}

	result, err := f.service.Run(context.Background(), MigrationOptions{ListOnly: domain.ListOnlyNeither, Export: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Exported.Exported) != 2 || len(result.Exported.Skipped) != 1 {
		t.Errorf("exported = %d, skipped = %d, want 2 and 1", len(result.Exported.Exported), len(result.Exported.Skipped))
	}
	if result.Report.Counts.Exported != 2 || result.Report.Counts.ExportSkipped != 1 {
		t.Errorf("counts = %+v", result.Report.Counts)
	}
}

func TestMigrationService_Run_ExportRefusedCountsAsSkipped(t *testing.T) {
	f := newMigrationFixture("")
	f.dst.exportErr["id-1"] = &domain.APIError{Kind: domain.ErrRetrieval, Operation: "export destination object", StatusCode: 403}
	f.dst.exportErr["id-2"] = &domain.APIError{Kind: domain.ErrRetrieval, Operation: "export destination object", StatusCode: 502}

	result, err := f.service.Run(context.Background(), MigrationOptions{ListOnly: domain.ListOnlyNeither, Export: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Report.Counts.Exported != 0 || result.Report.Counts.ExportSkipped != 1 {
		t.Errorf("counts = %+v, want 0 exported and 1 skipped", result.Report.Counts)
	}

	var skipped, failed []string
	for _, o := range result.Report.Outcomes {
		if o.Phase != domain.PhaseExport {
			continue
		}
		switch o.Status {
		case domain.OutcomeSkipped:
			skipped = append(skipped, o.Name)
			if o.Error != domain.ErrExportSkipped.Error() {
				t.Errorf("skipped outcome error = %q", o.Error)
			}
		case domain.OutcomeFailed:
			failed = append(failed, o.Name)
		}
	}
	if len(skipped) != 1 || skipped[0] != "one" {
		t.Errorf("skipped = %v, want [one]", skipped)
	}
	if len(failed) != 1 || failed[0] != "two" {
		t.Errorf("failed = %v, want [two]", failed)
	}
}

// runIDRecorder はログ出力時のコンテキストに載っている run_id を記録する。
type runIDRecorder struct {
	ids []string
}

func (r *runIDRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *runIDRecorder) Handle(ctx context.Context, rec slog.Record) error {
	r.ids = append(r.ids, middleware.RunIDFromContext(ctx))
	return nil
}

func (r *runIDRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }

func (r *runIDRecorder) WithGroup(string) slog.Handler { return r }

func TestMigrationService_Run_LogsCarryRunID(t *testing.T) {
	rec := &runIDRecorder{}
	prev := slog.Default()
	slog.SetDefault(slog.New(rec))
	t.Cleanup(func() { slog.SetDefault(prev) })

	f := newMigrationFixture("")
	result, err := f.service.Run(context.Background(), MigrationOptions{ListOnly: domain.ListOnlyNeither})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(rec.ids) == 0 {
		t.Fatal("expected log records during the run")
	}
	for i, id := range rec.ids {
		if id != result.Report.RunID {
			t.Errorf("record %d run_id = %q, want %q", i, id, result.Report.RunID)
		}
	}
}

func TestMigrationService_Run_DetailFailureAbortRun(t *testing.T) {
	f := newMigrationFixture(domain.DetailFailureAbortRun)
	f.src.getErr["k-1"] = &domain.APIError{Kind: domain.ErrRetrieval, Operation: "get object", StatusCode: 500}

	result, err := f.service.Run(context.Background(), MigrationOptions{ListOnly: domain.ListOnlyNeither})
	if !errors.Is(err, domain.ErrRetrieval) {
		t.Fatalf("Run() error = %v, want ErrRetrieval", err)
	}
	if len(f.dst.created) != 0 {
		t.Error("nothing should be uploaded after an aborted retrieval")
	}
	if len(f.reports.saved) != 1 || f.reports.saved[0] != result.Report {
		t.Error("report should be saved for an aborted run")
	}
}

func TestMigrationService_Run_DetailFailureAbortClient(t *testing.T) {
	f := newMigrationFixture(domain.DetailFailureAbortClient)
	f.src.getErr["k-2"] = &domain.APIError{Kind: domain.ErrRetrieval, Operation: "get object", StatusCode: 500}

	result, err := f.service.Run(context.Background(), MigrationOptions{ListOnly: domain.ListOnlyNeither})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(f.dst.created) != 1 {
		t.Errorf("created = %d, want 1", len(f.dst.created))
	}
	if len(result.Report.ClientErrors) != 1 {
		t.Errorf("ClientErrors = %v, want 1", result.Report.ClientErrors)
	}
}

func TestMigrationService_Run_ReportSaveErrorIsNotFatal(t *testing.T) {
	f := newMigrationFixture("")
	f.reports.err = errors.New("disk full")

	if _, err := f.service.Run(context.Background(), MigrationOptions{ListOnly: domain.ListOnlyNeither}); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
}
