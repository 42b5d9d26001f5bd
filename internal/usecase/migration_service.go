package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"krest/internal/domain"
	"krest/internal/middleware"
)

const tracerName = "krest/internal/usecase"

// ReportRepository は実行レポートを保存するリポジトリのインターフェース。
type ReportRepository interface {
	Save(ctx context.Context, report *domain.Report) error
}

// MigrationOptions は1回の実行の設定。
type MigrationOptions struct {
	SourceHost      string
	DestinationHost string
	ListOnly        domain.ListOnly
	Filter          domain.Filter
	GroupName       string
	IncludeSecrets  bool
	Export          bool // 読み戻したオブジェクトの鍵素材をエクスポートする
}

// MigrationResult は実行結果。Report は常に設定される。
type MigrationResult struct {
	Report      *domain.Report
	Source      *SourceInventory
	Self        domain.User
	Owners      map[string]string
	Group       *GroupResolution
	Destination []domain.DestinationObject
	Exported    ExportResult
}

// MigrationService は移行元の読み出しから移行先の読み戻しまでを順に実行する。
type MigrationService struct {
	reader  *SourceReader
	writer  *DestinationWriter
	mapper  *Mapper
	reports ReportRepository
	now     func() time.Time
	tracer  trace.Tracer
}

// NewMigrationService は新しいMigrationServiceを生成する。reports が nil ならレポートは保存しない。
func NewMigrationService(reader *SourceReader, writer *DestinationWriter, mapper *Mapper, reports ReportRepository) *MigrationService {
	return &MigrationService{
		reader:  reader,
		writer:  writer,
		mapper:  mapper,
		reports: reports,
		now:     time.Now,
		tracer:  otel.Tracer(tracerName),
	}
}

// Run は移行を実行する。
// 認証・一覧取得の失敗は即座に返し、オブジェクト単位の失敗はレポートに記録して続行する。
// 一部のアップロードが失敗した場合は ErrPartialMigration を返す。
func (s *MigrationService) Run(ctx context.Context, opts MigrationOptions) (result *MigrationResult, err error) {
	report := &domain.Report{
		RunID:           uuid.New().String(),
		StartedAt:       s.now().UTC(),
		SourceHost:      opts.SourceHost,
		DestinationHost: opts.DestinationHost,
		ListOnly:        opts.ListOnly,
		Group:           opts.GroupName,
		Outcomes:        []domain.ObjectOutcome{},
	}
	result = &MigrationResult{Report: report}

	ctx, span := s.tracer.Start(ctx, "migration.run", trace.WithAttributes(
		attribute.String("run_id", report.RunID),
		attribute.String("list_only", string(opts.ListOnly)),
	))
	ctx = middleware.WithRunID(ctx, report.RunID)
	defer func() {
		report.FinishedAt = s.now().UTC()
		if err != nil {
			report.Error = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.saveReport(ctx, report)
	}()

	if opts.ListOnly.ReadsSource() {
		inv, err := s.retrieve(ctx, opts, report)
		if err != nil {
			return result, err
		}
		result.Source = inv
	}

	if !opts.ListOnly.UsesDestination() {
		return result, nil
	}

	self, err := s.writer.Self(ctx)
	if err != nil {
		return result, err
	}
	result.Self = self

	owners, err := s.writer.Users(ctx)
	if err != nil {
		return result, err
	}
	result.Owners = owners

	if opts.ListOnly.Migrates() && result.Source != nil {
		if err := s.migrate(ctx, opts, result); err != nil {
			return result, err
		}
	}

	if err := s.verify(ctx, opts, result); err != nil {
		return result, err
	}

	if report.Partial() {
		return result, fmt.Errorf("%w: %d of %d uploads failed", domain.ErrPartialMigration, report.Failed(), report.Counts.Attempted)
	}
	return result, nil
}

func (s *MigrationService) retrieve(ctx context.Context, opts MigrationOptions, report *domain.Report) (*SourceInventory, error) {
	ctx, span := s.tracer.Start(ctx, "migration.retrieve")
	defer span.End()

	types := []domain.ObjectType{domain.ObjectTypeSymmetricKey}
	if opts.IncludeSecrets {
		types = append(types, domain.ObjectTypeSecretData)
	}

	inv, err := s.reader.Retrieve(ctx, RetrieveOptions{Types: types, Filter: opts.Filter})
	if inv != nil {
		report.Counts.SourceListed = inv.Listed
		report.Counts.SourceRetrieved = inv.Retrieved
		for _, ce := range inv.ClientErrors {
			report.ClientErrors = append(report.ClientErrors, ce.Error())
			report.Record(domain.ObjectOutcome{
				Phase:  domain.PhaseRetrieve,
				Client: ce.Client,
				Status: domain.OutcomeFailed,
				Error:  ce.Err.Error(),
			})
		}
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	report.Counts.SourceFiltered = len(inv.Keys) + len(inv.Secrets)
	span.SetAttributes(
		attribute.Int("listed", inv.Listed),
		attribute.Int("retrieved", inv.Retrieved),
		attribute.Int("filtered", report.Counts.SourceFiltered),
	)
	slog.InfoContext(ctx, "source retrieval complete",
		"operation", "retrieve",
		"listed", inv.Listed,
		"retrieved", inv.Retrieved,
		"keys", len(inv.Keys),
		"secrets", len(inv.Secrets),
	)
	return inv, nil
}

func (s *MigrationService) migrate(ctx context.Context, opts MigrationOptions, result *MigrationResult) error {
	ctx, span := s.tracer.Start(ctx, "migration.upload")
	defer span.End()

	report := result.Report
	if opts.GroupName != "" {
		res, err := s.writer.EnsureGroup(ctx, opts.GroupName, result.Self)
		if err != nil {
			span.RecordError(err)
			return err
		}
		result.Group = &res
	}

	objects := result.Source.Keys
	if opts.IncludeSecrets {
		objects = result.Source.Objects()
	}

	for _, src := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.migrateObject(ctx, opts, src, result.Self.ID, report)
	}

	span.SetAttributes(
		attribute.Int("attempted", report.Counts.Attempted),
		attribute.Int("succeeded", report.Counts.Succeeded),
	)
	slog.InfoContext(ctx, "upload complete",
		"operation", "upload",
		"attempted", report.Counts.Attempted,
		"succeeded", report.Counts.Succeeded,
		"group_assigned", report.Counts.GroupAssigned,
	)
	return nil
}

// migrateObject は1件を変換・アップロードし、必要ならグループに割り当てる。失敗はレポートに記録する。
func (s *MigrationService) migrateObject(ctx context.Context, opts MigrationOptions, src domain.SourceObject, ownerID string, report *domain.Report) {
	_, unknown := domain.UsageMask(src.UsageMask)
	outcome := domain.ObjectOutcome{
		Phase:        domain.PhaseMap,
		SourceUUID:   src.UUID,
		Client:       src.ClientName,
		ObjectType:   src.ObjectType,
		UnknownUsage: unknown,
	}
	report.Counts.Attempted++

	dst, err := s.mapper.Map(src, ownerID)
	if err != nil {
		outcome.Status = domain.OutcomeFailed
		outcome.Error = err.Error()
		report.Record(outcome)
		slog.WarnContext(ctx, "failed to map source object",
			"operation", "map",
			"uuid", src.UUID,
			"error", err,
		)
		return
	}
	outcome.Name = dst.Name

	outcome.Phase = domain.PhaseUpload
	var created domain.DestinationObject
	if src.ObjectType == domain.ObjectTypeSecretData {
		created, err = s.writer.UploadSecret(ctx, dst)
	} else {
		created, err = s.writer.UploadKey(ctx, dst)
	}
	if err != nil {
		outcome.Status = domain.OutcomeFailed
		outcome.Error = err.Error()
		report.Record(outcome)
		middleware.WriteAuditLog(ctx, "upload", dst.Name, "", middleware.ResultFailure)
		slog.WarnContext(ctx, "failed to upload object",
			"operation", "upload",
			"name", dst.Name,
			"uuid", src.UUID,
			"error", err,
		)
		return
	}

	report.Counts.Succeeded++
	outcome.Status = domain.OutcomeUploaded
	report.Record(outcome)
	middleware.WriteAuditLog(ctx, "upload", dst.Name, created.ID, middleware.ResultSuccess)

	if opts.GroupName == "" {
		return
	}
	assign := domain.ObjectOutcome{
		Phase:      domain.PhaseAssign,
		Name:       dst.Name,
		SourceUUID: src.UUID,
		Client:     src.ClientName,
		ObjectType: src.ObjectType,
		Status:     domain.OutcomeUploaded,
	}
	if err := s.writer.AssignToGroup(ctx, opts.GroupName, created); err != nil {
		assign.Status = domain.OutcomeFailed
		assign.Error = err.Error()
		middleware.WriteAuditLog(ctx, "assign_group", dst.Name, created.ID, middleware.ResultFailure)
		slog.WarnContext(ctx, "failed to assign object to group",
			"operation", "assign_group",
			"name", dst.Name,
			"group", opts.GroupName,
			"error", err,
		)
	} else {
		report.Counts.GroupAssigned++
		middleware.WriteAuditLog(ctx, "assign_group", dst.Name, created.ID, middleware.ResultSuccess)
	}
	report.Record(assign)
}

func (s *MigrationService) verify(ctx context.Context, opts MigrationOptions, result *MigrationResult) error {
	ctx, span := s.tracer.Start(ctx, "migration.verify")
	defer span.End()

	report := result.Report
	all, err := s.writer.ListAll(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	report.Counts.DestListed = len(all)
	result.Destination = FilterByAttributes(all, opts.Filter.CustomAttributes)

	if !opts.Export {
		return nil
	}

	exported, err := s.writer.ExportAll(ctx, result.Destination)
	result.Exported = exported
	report.Counts.Exported = len(exported.Exported)
	report.Counts.ExportSkipped = len(exported.Skipped)
	for _, obj := range exported.Skipped {
		report.Record(domain.ObjectOutcome{
			Phase:  domain.PhaseExport,
			Name:   obj.Name,
			Status: domain.OutcomeSkipped,
			Error:  domain.ErrExportSkipped.Error(),
		})
	}
	for _, f := range exported.Failed {
		report.Record(domain.ObjectOutcome{
			Phase:  domain.PhaseExport,
			Name:   f.Object.Name,
			Status: domain.OutcomeFailed,
			Error:  f.Err.Error(),
		})
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *MigrationService) saveReport(ctx context.Context, report *domain.Report) {
	if s.reports == nil {
		return
	}
	// 中断された実行のレポートも残す
	if err := s.reports.Save(context.WithoutCancel(ctx), report); err != nil {
		slog.ErrorContext(ctx, "failed to save run report",
			"operation", "save_report",
			"run_id", report.RunID,
			"error", err,
		)
	}
}
