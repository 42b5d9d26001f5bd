package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"krest/internal/domain"
	"krest/internal/middleware"
)

// KeyAPI は移行元の鍵一覧 API。
type KeyAPI interface {
	ListKeys(ctx context.Context, tok domain.AuthToken) ([]domain.KeyEntry, error)
	ExportKey(ctx context.Context, tok domain.AuthToken, alias string) (domain.KeyEntry, error)
}

// KeyInventory は移行元の鍵一覧 API を使って、ユーザーに紐付いた鍵を一覧・エクスポートする。
// 管理オブジェクト API と違い、クライアントに割り当てられていない鍵は見えない。
type KeyInventory struct {
	api     KeyAPI
	session TokenSource
}

// NewKeyInventory は新しいKeyInventoryを生成する。
func NewKeyInventory(api KeyAPI, session TokenSource) *KeyInventory {
	return &KeyInventory{api: api, session: session}
}

// List は鍵の一覧を返す。uuid が空でなければ UUID の部分一致で絞り込む。
func (k *KeyInventory) List(ctx context.Context, uuid string) ([]domain.KeyEntry, error) {
	tok, err := k.session.Token(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := k.api.ListKeys(ctx, tok)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list source keys",
			"operation", "list_keys",
			"error", err,
		)
		return nil, err
	}
	if uuid == "" {
		return keys, nil
	}

	var matched []domain.KeyEntry
	for _, key := range keys {
		if strings.Contains(key.UUID, uuid) {
			matched = append(matched, key)
		}
	}
	return matched, nil
}

// Export は別名ごとに移行元サーバ上へエクスポートを要求する。
// 失敗した別名があっても残りを続け、成功分とまとめたエラーを返す。
func (k *KeyInventory) Export(ctx context.Context, aliases []string) ([]domain.KeyEntry, error) {
	var (
		exported []domain.KeyEntry
		errs     []error
	)
	for _, alias := range aliases {
		if err := ctx.Err(); err != nil {
			return exported, err
		}
		tok, err := k.session.Token(ctx)
		if err != nil {
			return exported, err
		}

		key, err := k.api.ExportKey(ctx, tok, alias)
		if err != nil {
			middleware.WriteAuditLog(ctx, "export_source_key", alias, "", middleware.ResultFailure)
			errs = append(errs, fmt.Errorf("export %s: %w", alias, err))
			continue
		}
		middleware.WriteAuditLog(ctx, "export_source_key", alias, key.UUID, middleware.ResultSuccess)
		exported = append(exported, key)
	}
	return exported, errors.Join(errs...)
}
