// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"krest/internal/domain"
)

// outcomeBatchSize は結果を一括挿入する件数。
const outcomeBatchSize = 200

// ErrRunNotFound は指定された実行IDのレポートが無い場合のエラー。
var ErrRunNotFound = errors.New("run not found")

// MigrationRunModel はmigration_runsテーブルのモデル。
type MigrationRunModel struct {
	RunID           string    `gorm:"column:run_id;type:char(36);primaryKey"`
	StartedAt       time.Time `gorm:"column:started_at;not null;index:idx_started_at"`
	FinishedAt      time.Time `gorm:"column:finished_at"`
	SourceHost      string    `gorm:"column:source_host;type:varchar(255)"`
	DestinationHost string    `gorm:"column:destination_host;type:varchar(255)"`
	ListOnly        string    `gorm:"column:list_only;type:varchar(16);not null"`
	GroupName       string    `gorm:"column:group_name;type:varchar(255)"`
	SourceListed    int       `gorm:"column:source_listed"`
	SourceRetrieved int       `gorm:"column:source_retrieved"`
	SourceFiltered  int       `gorm:"column:source_filtered"`
	Attempted       int       `gorm:"column:attempted"`
	Succeeded       int       `gorm:"column:succeeded"`
	GroupAssigned   int       `gorm:"column:group_assigned"`
	DestListed      int       `gorm:"column:destination_listed"`
	Exported        int       `gorm:"column:exported"`
	ExportSkipped   int       `gorm:"column:export_skipped"`
	ClientErrors    string    `gorm:"column:client_errors;type:text"`
	Error           string    `gorm:"column:error;type:text"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName はテーブル名を指定。
func (MigrationRunModel) TableName() string {
	return "migration_runs"
}

// MigrationOutcomeModel はmigration_outcomesテーブルのモデル。
type MigrationOutcomeModel struct {
	ID           string `gorm:"column:id;type:char(36);primaryKey"`
	RunID        string `gorm:"column:run_id;type:char(36);not null;index:idx_run_seq"`
	Seq          int    `gorm:"column:seq;not null;index:idx_run_seq"`
	Phase        string `gorm:"column:phase;type:varchar(16);not null"`
	Name         string `gorm:"column:name;type:varchar(255)"`
	SourceUUID   string `gorm:"column:source_uuid;type:varchar(64)"`
	Client       string `gorm:"column:client;type:varchar(255)"`
	ObjectType   string `gorm:"column:object_type;type:varchar(32)"`
	Status       string `gorm:"column:status;type:varchar(16);not null"`
	Error        string `gorm:"column:error;type:text"`
	UnknownUsage string `gorm:"column:unknown_usage;type:varchar(255)"`
}

// TableName はテーブル名を指定。
func (MigrationOutcomeModel) TableName() string {
	return "migration_outcomes"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *MigrationOutcomeModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func toRunModel(r *domain.Report) *MigrationRunModel {
	return &MigrationRunModel{
		RunID:           r.RunID,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
		SourceHost:      r.SourceHost,
		DestinationHost: r.DestinationHost,
		ListOnly:        string(r.ListOnly),
		GroupName:       r.Group,
		SourceListed:    r.Counts.SourceListed,
		SourceRetrieved: r.Counts.SourceRetrieved,
		SourceFiltered:  r.Counts.SourceFiltered,
		Attempted:       r.Counts.Attempted,
		Succeeded:       r.Counts.Succeeded,
		GroupAssigned:   r.Counts.GroupAssigned,
		DestListed:      r.Counts.DestListed,
		Exported:        r.Counts.Exported,
		ExportSkipped:   r.Counts.ExportSkipped,
		ClientErrors:    strings.Join(r.ClientErrors, "\n"),
		Error:           r.Error,
	}
}

// toDomain はモデルをドメインのレポートに変換する。Outcomes は含まない。
func (m *MigrationRunModel) toDomain() *domain.Report {
	r := &domain.Report{
		RunID:           m.RunID,
		StartedAt:       m.StartedAt,
		FinishedAt:      m.FinishedAt,
		SourceHost:      m.SourceHost,
		DestinationHost: m.DestinationHost,
		ListOnly:        domain.ListOnly(m.ListOnly),
		Group:           m.GroupName,
		Counts: domain.Counts{
			SourceListed:    m.SourceListed,
			SourceRetrieved: m.SourceRetrieved,
			SourceFiltered:  m.SourceFiltered,
			Attempted:       m.Attempted,
			Succeeded:       m.Succeeded,
			GroupAssigned:   m.GroupAssigned,
			DestListed:      m.DestListed,
			Exported:        m.Exported,
			ExportSkipped:   m.ExportSkipped,
		},
		Outcomes: []domain.ObjectOutcome{},
		Error:    m.Error,
	}
	if m.ClientErrors != "" {
		r.ClientErrors = strings.Split(m.ClientErrors, "\n")
	}
	return r
}

func (m *MigrationOutcomeModel) toDomain() domain.ObjectOutcome {
	return domain.ObjectOutcome{
		Phase:        domain.Phase(m.Phase),
		Name:         m.Name,
		SourceUUID:   m.SourceUUID,
		Client:       m.Client,
		ObjectType:   domain.ObjectType(m.ObjectType),
		Status:       domain.OutcomeStatus(m.Status),
		Error:        m.Error,
		UnknownUsage: strings.Fields(m.UnknownUsage),
	}
}

// ReportRepository は実行レポートを保存・参照するリポジトリ。
type ReportRepository struct {
	db *gorm.DB
}

// NewReportRepository は新しいReportRepositoryを生成する。
func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Migrate はレポート用のテーブルを作成・更新する。
func (r *ReportRepository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&MigrationRunModel{}, &MigrationOutcomeModel{}); err != nil {
		slog.ErrorContext(ctx, "failed to migrate report tables",
			"operation", "migrate_report_tables",
			"error", err,
		)
		return err
	}
	return nil
}

// Save はレポートと結果を1トランザクションで保存する。同じ実行IDなら置き換える。
func (r *ReportRepository) Save(ctx context.Context, report *domain.Report) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", report.RunID).Delete(&MigrationOutcomeModel{}).Error; err != nil {
			return err
		}
		if err := tx.Save(toRunModel(report)).Error; err != nil {
			return err
		}
		if len(report.Outcomes) == 0 {
			return nil
		}

		outcomes := make([]MigrationOutcomeModel, len(report.Outcomes))
		for i, o := range report.Outcomes {
			outcomes[i] = MigrationOutcomeModel{
				RunID:        report.RunID,
				Seq:          i,
				Phase:        string(o.Phase),
				Name:         o.Name,
				SourceUUID:   o.SourceUUID,
				Client:       o.Client,
				ObjectType:   string(o.ObjectType),
				Status:       string(o.Status),
				Error:        o.Error,
				UnknownUsage: strings.Join(o.UnknownUsage, " "),
			}
		}
		return tx.CreateInBatches(outcomes, outcomeBatchSize).Error
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to save run report",
			"operation", "save_report",
			"run_id", report.RunID,
			"error", err,
		)
		return err
	}
	return nil
}

// FindRecent は新しい順に最大 limit 件の実行を返す。Outcomes は含まない。
func (r *ReportRepository) FindRecent(ctx context.Context, limit int) ([]*domain.Report, error) {
	var models []MigrationRunModel
	if err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find recent runs",
			"operation", "find_recent_runs",
			"error", err,
		)
		return nil, err
	}

	reports := make([]*domain.Report, len(models))
	for i := range models {
		reports[i] = models[i].toDomain()
	}
	return reports, nil
}

// FindByRunID は実行IDでレポートを結果付きで返す。見つからなければ ErrRunNotFound。
func (r *ReportRepository) FindByRunID(ctx context.Context, runID string) (*domain.Report, error) {
	var run MigrationRunModel
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to find run",
			"operation", "find_run",
			"run_id", runID,
			"error", err,
		)
		return nil, err
	}

	var outcomes []MigrationOutcomeModel
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("seq ASC").Find(&outcomes).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find run outcomes",
			"operation", "find_run",
			"run_id", runID,
			"error", err,
		)
		return nil, err
	}

	report := run.toDomain()
	for i := range outcomes {
		report.Outcomes = append(report.Outcomes, outcomes[i].toDomain())
	}
	return report, nil
}
