package domain

import "time"

// OutcomeStatus はオブジェクト単位の処理結果を表す。
type OutcomeStatus string

const (
	OutcomeUploaded OutcomeStatus = "uploaded"
	OutcomeFailed   OutcomeStatus = "failed"
	OutcomeSkipped  OutcomeStatus = "skipped"
)

// Phase は処理段階を表す。
type Phase string

const (
	PhaseRetrieve Phase = "retrieve"
	PhaseMap      Phase = "map"
	PhaseUpload   Phase = "upload"
	PhaseAssign   Phase = "assign"
	PhaseExport   Phase = "export"
)

// ObjectOutcome は1オブジェクトの処理結果。
type ObjectOutcome struct {
	Phase        Phase         `json:"phase"`
	Name         string        `json:"name"`
	SourceUUID   string        `json:"source_uuid,omitempty"`
	Client       string        `json:"client,omitempty"`
	ObjectType   ObjectType    `json:"object_type,omitempty"`
	Status       OutcomeStatus `json:"status"`
	Error        string        `json:"error,omitempty"`
	UnknownUsage []string      `json:"unknown_usage,omitempty"`
}

// Counts は処理段階ごとの件数。
type Counts struct {
	SourceListed    int `json:"source_listed"`
	SourceRetrieved int `json:"source_retrieved"`
	SourceFiltered  int `json:"source_filtered"`
	Attempted       int `json:"attempted"`
	Succeeded       int `json:"succeeded"`
	GroupAssigned   int `json:"group_assigned"`
	DestListed      int `json:"destination_listed"`
	Exported        int `json:"exported"`
	ExportSkipped   int `json:"export_skipped"`
}

// Report は1回の実行結果をまとめた機械可読なレポート。
type Report struct {
	RunID           string          `json:"run_id"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	SourceHost      string          `json:"source_host"`
	DestinationHost string          `json:"destination_host"`
	ListOnly        ListOnly        `json:"list_only"`
	Group           string          `json:"group,omitempty"`
	Counts          Counts          `json:"counts"`
	Outcomes        []ObjectOutcome `json:"outcomes"`
	ClientErrors    []string        `json:"client_errors,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// Record は結果を追加する。
func (r *Report) Record(o ObjectOutcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Failed はアップロードに失敗した件数を返す。
func (r *Report) Failed() int {
	return r.Counts.Attempted - r.Counts.Succeeded
}

// Partial は一部のアップロードが失敗したかを返す。
func (r *Report) Partial() bool {
	return r.Failed() > 0
}
