package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"krest/internal/domain"
	"krest/internal/middleware"
)

const (
	// groupListLimit はグループ一覧で一度に取得する上限。
	groupListLimit = 1000
	// pageSize は移行先一覧の1ページの件数。
	pageSize = 500
)

// groupPermissions はグループ割り当て時に付与する権限。
var groupPermissions = []string{
	"ReadKey",
	"ExportKey",
	"UseKey",
	"EncryptWithKey",
	"DecryptWithKey",
	"SignWithKey",
	"SignVerifyWithKey",
	"MACWithKey",
	"MACVerifyWithKey",
}

// DestinationAPI は移行先REST APIのインターフェース。
type DestinationAPI interface {
	Self(ctx context.Context, tok domain.AuthToken) (domain.User, error)
	Users(ctx context.Context, tok domain.AuthToken) ([]domain.User, error)
	Groups(ctx context.Context, tok domain.AuthToken, limit int) ([]domain.Group, error)
	CreateGroup(ctx context.Context, tok domain.AuthToken, name string) (domain.Group, error)
	AddUserToGroup(ctx context.Context, tok domain.AuthToken, group, userID string) error
	CreateKey(ctx context.Context, tok domain.AuthToken, obj domain.DestinationObject) (domain.DestinationObject, error)
	CreateSecret(ctx context.Context, tok domain.AuthToken, obj domain.DestinationObject) (domain.DestinationObject, error)
	FindByName(ctx context.Context, tok domain.AuthToken, name string) (domain.DestinationObject, error)
	PatchObject(ctx context.Context, tok domain.AuthToken, id string, patch domain.ObjectPatch) error
	ListPage(ctx context.Context, tok domain.AuthToken, skip, limit int) (domain.ObjectPage, error)
	Export(ctx context.Context, tok domain.AuthToken, id string) (domain.ExportedMaterial, error)
}

// GroupResolution はグループの解決結果。
type GroupResolution struct {
	Group   domain.Group
	Created bool
}

// ExportFailure はエクスポートに失敗したオブジェクト。
type ExportFailure struct {
	Object domain.DestinationObject
	Err    error
}

// ExportResult は ExportAll の結果。
type ExportResult struct {
	Exported []domain.ExportedMaterial
	Skipped  []domain.DestinationObject
	Failed   []ExportFailure
}

// DestinationWriter は移行先への書き込みと読み戻しを行う。
// すべての呼び出しの直前にセッションからトークンを取り直し、期限切れなら再ログインさせる。
type DestinationWriter struct {
	api     DestinationAPI
	session TokenSource
}

// NewDestinationWriter は新しいDestinationWriterを生成する。
func NewDestinationWriter(api DestinationAPI, session TokenSource) *DestinationWriter {
	return &DestinationWriter{api: api, session: session}
}

// Self はログイン中のユーザーを返す。ID は作成するオブジェクトの所有者になる。
func (w *DestinationWriter) Self(ctx context.Context) (domain.User, error) {
	tok, err := w.session.Token(ctx)
	if err != nil {
		return domain.User{}, err
	}
	return w.api.Self(ctx, tok)
}

// Users はユーザーIDからニックネームへの対応を返す。
func (w *DestinationWriter) Users(ctx context.Context) (map[string]string, error) {
	tok, err := w.session.Token(ctx)
	if err != nil {
		return nil, err
	}
	users, err := w.api.Users(ctx, tok)
	if err != nil {
		return nil, err
	}
	nicknames := make(map[string]string, len(users))
	for _, u := range users {
		nicknames[u.ID] = u.Nickname
	}
	return nicknames, nil
}

// EnsureGroup は名前でグループを探し、無ければ作成して self を追加する。
func (w *DestinationWriter) EnsureGroup(ctx context.Context, name string, self domain.User) (GroupResolution, error) {
	tok, err := w.session.Token(ctx)
	if err != nil {
		return GroupResolution{}, err
	}
	groups, err := w.api.Groups(ctx, tok, groupListLimit)
	if err != nil {
		return GroupResolution{}, err
	}
	for _, g := range groups {
		if g.Name == name {
			return GroupResolution{Group: g}, nil
		}
	}

	if tok, err = w.session.Token(ctx); err != nil {
		return GroupResolution{}, err
	}
	group, err := w.api.CreateGroup(ctx, tok, name)
	if err != nil {
		return GroupResolution{}, err
	}
	if group.Name == "" {
		group.Name = name
	}
	slog.InfoContext(ctx, "destination group created",
		"operation", "ensure_group",
		"group", name,
	)

	if self.ID != "" {
		if tok, err = w.session.Token(ctx); err != nil {
			return GroupResolution{}, err
		}
		if err := w.api.AddUserToGroup(ctx, tok, name, self.ID); err != nil {
			return GroupResolution{}, err
		}
		group.Users = append(group.Users, self.ID)
	}
	return GroupResolution{Group: group, Created: true}, nil
}

// UploadKey は鍵を作成する。作成レスポンスに ID が無ければ名前で検索して補う。
func (w *DestinationWriter) UploadKey(ctx context.Context, obj domain.DestinationObject) (domain.DestinationObject, error) {
	tok, err := w.session.Token(ctx)
	if err != nil {
		return domain.DestinationObject{}, err
	}
	created, err := w.api.CreateKey(ctx, tok, obj)
	if err != nil {
		return domain.DestinationObject{}, err
	}
	return w.resolveCreated(ctx, obj, created)
}

// UploadSecret はシークレットを作成する。作成レスポンスに ID が無ければ名前で検索して補う。
func (w *DestinationWriter) UploadSecret(ctx context.Context, obj domain.DestinationObject) (domain.DestinationObject, error) {
	tok, err := w.session.Token(ctx)
	if err != nil {
		return domain.DestinationObject{}, err
	}
	created, err := w.api.CreateSecret(ctx, tok, obj)
	if err != nil {
		return domain.DestinationObject{}, err
	}
	return w.resolveCreated(ctx, obj, created)
}

func (w *DestinationWriter) resolveCreated(ctx context.Context, sent, created domain.DestinationObject) (domain.DestinationObject, error) {
	if created.ID != "" {
		if created.Name == "" {
			created.Name = sent.Name
		}
		return created, nil
	}

	tok, err := w.session.Token(ctx)
	if err != nil {
		return domain.DestinationObject{}, err
	}
	found, err := w.api.FindByName(ctx, tok, sent.Name)
	if err != nil {
		return domain.DestinationObject{}, fmt.Errorf("look up created object %q: %w", sent.Name, err)
	}
	return found, nil
}

// AssignToGroup はオブジェクトをグループに割り当てる。
// 1回目の更新で別名を消し、成功した場合だけ2回目の更新で別名と権限を設定する。
func (w *DestinationWriter) AssignToGroup(ctx context.Context, group string, obj domain.DestinationObject) error {
	if obj.ID == "" {
		return fmt.Errorf("assign %q to group %s: %w: object has no id", obj.Name, group, domain.ErrGroup)
	}
	alias := obj.PrimaryAlias()

	tok, err := w.session.Token(ctx)
	if err != nil {
		return err
	}
	zero := 0
	clearAlias := domain.ObjectPatch{Aliases: []domain.Alias{{Alias: "", Index: &zero}}}
	if err := w.api.PatchObject(ctx, tok, obj.ID, clearAlias); err != nil {
		return fmt.Errorf("clear alias of %q: %w", alias, err)
	}

	if tok, err = w.session.Token(ctx); err != nil {
		return err
	}
	permissions := make(map[string][]string, len(groupPermissions))
	for _, p := range groupPermissions {
		permissions[p] = []string{group}
	}
	assign := domain.ObjectPatch{
		Aliases: []domain.Alias{{Alias: alias, Type: customAttrType}},
		Meta:    &domain.Meta{Permissions: permissions},
	}
	if err := w.api.PatchObject(ctx, tok, obj.ID, assign); err != nil {
		return fmt.Errorf("assign %q to group %s: %w", alias, group, err)
	}
	return nil
}

// ListAll は移行先の全オブジェクトをサーバの返却順で返す。
// 取得件数が総件数に達するまで pageSize ずつ読み進める。
func (w *DestinationWriter) ListAll(ctx context.Context) ([]domain.DestinationObject, error) {
	var all []domain.DestinationObject
	for skip := 0; ; skip += pageSize {
		tok, err := w.session.Token(ctx)
		if err != nil {
			return nil, err
		}
		page, err := w.api.ListPage(ctx, tok, skip, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Resources...)

		if len(all) >= page.Total {
			return all, nil
		}
		if len(page.Resources) == 0 {
			return all, fmt.Errorf("%w: empty page at skip %d after %d of %d objects", domain.ErrRetrieval, skip, len(all), page.Total)
		}
	}
}

// ExportAll はエクスポート可能なオブジェクトの鍵素材を取得する。
// unexportable のオブジェクトは呼び出さずにスキップし、403で拒否されたものもスキップとして扱う。
// それ以外の個別の失敗は記録して続行する。
func (w *DestinationWriter) ExportAll(ctx context.Context, objects []domain.DestinationObject) (ExportResult, error) {
	var result ExportResult
	for _, obj := range objects {
		if obj.Unexportable {
			middleware.WriteAuditLog(ctx, "export", obj.Name, obj.ID, middleware.ResultSkipped)
			result.Skipped = append(result.Skipped, obj)
			continue
		}

		tok, err := w.session.Token(ctx)
		if err != nil {
			return result, err
		}
		material, err := w.api.Export(ctx, tok, obj.ID)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if exportRefused(err) {
				slog.InfoContext(ctx, "destination refused to export object",
					"operation", "export",
					"name", obj.Name,
					"id", obj.ID,
					"error", err,
				)
				middleware.WriteAuditLog(ctx, "export", obj.Name, obj.ID, middleware.ResultSkipped)
				result.Skipped = append(result.Skipped, obj)
				continue
			}
			slog.WarnContext(ctx, "failed to export object",
				"operation", "export",
				"name", obj.Name,
				"id", obj.ID,
				"error", err,
			)
			middleware.WriteAuditLog(ctx, "export", obj.Name, obj.ID, middleware.ResultFailure)
			result.Failed = append(result.Failed, ExportFailure{Object: obj, Err: err})
			continue
		}
		if material.ID == "" {
			material.ID = obj.ID
		}
		if material.Name == "" {
			material.Name = obj.Name
		}
		middleware.WriteAuditLog(ctx, "export", obj.Name, obj.ID, middleware.ResultSuccess)
		result.Exported = append(result.Exported, material)
	}
	return result, nil
}

// exportRefused は移行先がエクスポートを拒否した(403)かを返す。
// unexportable フラグが一覧に反映されていないオブジェクトはこの形で返ってくる。
func exportRefused(err error) bool {
	var apiErr *domain.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden
}

// FilterByAttributes は meta.kmip.custom が条件をすべて満たすオブジェクトだけを返す。
func FilterByAttributes(objects []domain.DestinationObject, want map[string]string) []domain.DestinationObject {
	if len(want) == 0 {
		return objects
	}
	out := make([]domain.DestinationObject, 0, len(objects))
	for _, obj := range objects {
		if matchAttributes(obj.CustomAttributeMap(), want) {
			out = append(out, obj)
		}
	}
	return out
}
