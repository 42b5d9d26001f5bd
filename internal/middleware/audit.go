// Package middleware はユースケースの前後で行う横断的な処理を提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// AuditLog は監査ログの構造体。
type AuditLog struct {
	Operation  string `json:"operation"`
	ObjectName string `json:"object_name"`
	ObjectID   string `json:"object_id,omitempty"`
	Result     string `json:"result"`
	Timestamp  string `json:"timestamp"`
}

// 監査ログの結果。
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

type runIDKey struct{}

// WithRunID は移行実行のIDをコンテキストに載せる。ロガーが run_id として各ログに付与する。
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext はコンテキストに載った移行実行のIDを返す。無ければ空文字。
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// WriteAuditLog は移行先への書き込み操作の監査ログを出力する。
func WriteAuditLog(ctx context.Context, operation, objectName, objectID, result string) {
	entry := AuditLog{
		Operation:  operation,
		ObjectName: objectName,
		ObjectID:   objectID,
		Result:     result,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	slog.InfoContext(ctx, "object operation completed",
		"operation", entry.Operation,
		"object_name", entry.ObjectName,
		"object_id", entry.ObjectID,
		"result", entry.Result,
		"timestamp", entry.Timestamp,
	)
}
