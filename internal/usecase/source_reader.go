package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"krest/internal/codec"
	"krest/internal/domain"
)

// SourceAPI は移行元REST APIのインターフェース。
type SourceAPI interface {
	ListClients(ctx context.Context, tok domain.AuthToken) ([]domain.Client, error)
	ListObjects(ctx context.Context, tok domain.AuthToken, objectType domain.ObjectType, clientName string) ([]domain.SourceObject, error)
	GetObject(ctx context.Context, tok domain.AuthToken, uuid string) (domain.SourceObject, error)
	AssignUsers(ctx context.Context, tok domain.AuthToken, clientName string, users []string) error
	RemoveUsers(ctx context.Context, tok domain.AuthToken, clientName string, users []string) error
}

// TokenSource は呼び出し直前に有効なトークンを返す。
type TokenSource interface {
	Token(ctx context.Context) (domain.AuthToken, error)
}

// RetrieveOptions は移行元から取得する対象。
type RetrieveOptions struct {
	Types  []domain.ObjectType
	Filter domain.Filter
}

// ClientError はクライアント単位で打ち切った取得エラー。
type ClientError struct {
	Client string
	Err    error
}

func (e ClientError) Error() string {
	return fmt.Sprintf("client %s: %v", e.Client, e.Err)
}

// DetailError は1件の詳細取得の失敗。扱いは DetailFailure に従う。
type DetailError struct {
	UUID string
	Err  error
}

func (e *DetailError) Error() string {
	return fmt.Sprintf("get object %s: %v", e.UUID, e.Err)
}

func (e *DetailError) Unwrap() error {
	return e.Err
}

// SourceInventory は移行元から取得した結果。
type SourceInventory struct {
	Clients      []domain.Client
	Keys         []domain.SourceObject
	Secrets      []domain.SourceObject
	Listed       int // クライアント一覧が報告した件数（対象種別のみ）
	Retrieved    int // 詳細を取得できた件数（絞り込み前）
	ClientErrors []ClientError
}

// Objects は鍵とシークレットをこの順に連結して返す。
func (inv *SourceInventory) Objects() []domain.SourceObject {
	out := make([]domain.SourceObject, 0, len(inv.Keys)+len(inv.Secrets))
	out = append(out, inv.Keys...)
	return append(out, inv.Secrets...)
}

// SourceReader は移行元から鍵とシークレットを読み出す。
type SourceReader struct {
	api              SourceAPI
	session          TokenSource
	user             string
	resolveOwnership bool
	detailFailure    domain.DetailFailure
}

// NewSourceReader は新しいSourceReaderを生成する。
// user はログインユーザー名で、resolveOwnership が true のとき未割り当てのクライアントへ一時的に追加する。
func NewSourceReader(api SourceAPI, session TokenSource, user string, resolveOwnership bool, detailFailure domain.DetailFailure) *SourceReader {
	if detailFailure == "" {
		detailFailure = domain.DetailFailureAbortClient
	}
	return &SourceReader{
		api:              api,
		session:          session,
		user:             user,
		resolveOwnership: resolveOwnership,
		detailFailure:    detailFailure,
	}
}

// ListClients はクライアント一覧を返す。
func (r *SourceReader) ListClients(ctx context.Context) ([]domain.Client, error) {
	tok, err := r.session.Token(ctx)
	if err != nil {
		return nil, err
	}
	clients, err := r.api.ListClients(ctx, tok)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list source clients",
			"operation", "list_clients",
			"error", err,
		)
		return nil, err
	}
	return clients, nil
}

// Retrieve は全クライアント（ClientName 指定時はそのクライアントのみ）から対象種別の詳細を取得し、
// 絞り込み条件を適用して返す。
func (r *SourceReader) Retrieve(ctx context.Context, opts RetrieveOptions) (*SourceInventory, error) {
	clients, err := r.ListClients(ctx)
	if err != nil {
		return nil, err
	}

	selected, err := selectClients(clients, opts.Filter.ClientName, opts.Types)
	if err != nil {
		return nil, err
	}

	inv := &SourceInventory{Clients: clients}
	for _, client := range selected {
		counts := client.ObjectCounts()
		types := typesPresent(counts, opts.Types)
		if len(types) == 0 {
			continue
		}
		for _, t := range types {
			inv.Listed += counts[t]
		}

		objects, err := r.RetrieveClient(ctx, client, types, opts.Filter.UUID)
		for _, obj := range objects {
			if obj.ObjectType == domain.ObjectTypeSecretData {
				inv.Secrets = append(inv.Secrets, obj)
			} else {
				inv.Keys = append(inv.Keys, obj)
			}
		}
		inv.Retrieved += len(objects)

		if err != nil {
			var detailErr *DetailError
			if r.detailFailure == domain.DetailFailureAbortRun || !errors.As(err, &detailErr) {
				return inv, err
			}
			slog.WarnContext(ctx, "stopped retrieving client objects",
				"operation", "retrieve",
				"client", client.Name,
				"error", err,
			)
			inv.ClientErrors = append(inv.ClientErrors, ClientError{Client: client.Name, Err: err})
		}
	}

	inv.Keys = ApplyFilter(inv.Keys, opts.Filter)
	inv.Secrets = ApplyFilter(inv.Secrets, opts.Filter)
	return inv, nil
}

// RetrieveClient は1つのクライアントについて種別ごとに概要を一覧し、1件ずつ詳細を取得する。
// uuidFilter が空でなければ UUID にその文字列を含むものだけ取得する。
// 詳細取得に失敗した時点でこのクライアントの残りを打ち切り、それまでの結果とエラーを返す。
func (r *SourceReader) RetrieveClient(ctx context.Context, client domain.Client, types []domain.ObjectType, uuidFilter string) (objects []domain.SourceObject, err error) {
	err = r.withClientAccess(ctx, client, func() error {
		for _, t := range types {
			tok, err := r.session.Token(ctx)
			if err != nil {
				return err
			}
			summaries, err := r.api.ListObjects(ctx, tok, t, client.Name)
			if err != nil {
				return fmt.Errorf("list %s objects: %w", t, err)
			}

			slog.DebugContext(ctx, "retrieving source objects",
				"operation", "retrieve",
				"client", client.Name,
				"object_type", t,
				"count", len(summaries),
			)

			for _, summary := range summaries {
				if uuidFilter != "" && !strings.Contains(summary.UUID, uuidFilter) {
					continue
				}
				obj, err := r.api.GetObject(ctx, tok, summary.UUID)
				if err != nil {
					return &DetailError{UUID: summary.UUID, Err: err}
				}
				obj.ClientName = client.Name
				if obj.ObjectType == domain.ObjectTypeUnknown {
					obj.ObjectType = t
				}
				objects = append(objects, obj)
			}
		}
		return nil
	})
	return objects, err
}

// withClientAccess はログインユーザーがクライアントに割り当てられていなければ一時的に追加して fn を実行し、
// どの経路で終わっても元のユーザー構成に戻す。戻す処理のエラーは返り値に結合する。
func (r *SourceReader) withClientAccess(ctx context.Context, client domain.Client, fn func() error) (err error) {
	if !r.resolveOwnership || client.HasUser(r.user) {
		return fn()
	}

	tok, err := r.session.Token(ctx)
	if err != nil {
		return err
	}
	if err := r.api.AssignUsers(ctx, tok, client.Name, []string{r.user}); err != nil {
		return fmt.Errorf("grant access to client %s: %w", client.Name, err)
	}
	slog.InfoContext(ctx, "temporarily assigned user to source client",
		"operation", "client_access",
		"client", client.Name,
		"user", r.user,
	)

	defer func() {
		restoreCtx := context.WithoutCancel(ctx)
		var errs []error
		if rerr := r.api.RemoveUsers(restoreCtx, tok, client.Name, []string{r.user}); rerr != nil {
			errs = append(errs, fmt.Errorf("remove user from client %s: %w", client.Name, rerr))
		}
		if len(client.Users) > 0 {
			if rerr := r.api.AssignUsers(restoreCtx, tok, client.Name, client.Users); rerr != nil {
				errs = append(errs, fmt.Errorf("restore users of client %s: %w", client.Name, rerr))
			}
		}
		if len(errs) > 0 {
			slog.ErrorContext(ctx, "failed to restore source client users",
				"operation", "client_access",
				"client", client.Name,
				"error", errors.Join(errs...),
			)
		}
		if len(errs) > 0 {
			err = errors.Join(append([]error{err}, errs...)...)
		}
	}()

	return fn()
}

// ApplyFilter は条件をすべて満たすオブジェクトだけを元の順序で返す。
// カスタム属性はベンダー名前空間（x-NETAPP）のキーだけを比較対象にする。
func ApplyFilter(objects []domain.SourceObject, f domain.Filter) []domain.SourceObject {
	if f.IsEmpty() {
		return objects
	}

	out := make([]domain.SourceObject, 0, len(objects))
	for _, obj := range objects {
		if f.UUID != "" && !strings.Contains(obj.UUID, f.UUID) {
			continue
		}
		if f.ClientName != "" && obj.ClientName != f.ClientName {
			continue
		}
		if len(f.CustomAttributes) > 0 && !matchAttributes(VendorAttributes(obj.CustomAttributes), f.CustomAttributes) {
			continue
		}
		out = append(out, obj)
	}
	return out
}

// VendorAttributes はブラケット形式のカスタム属性を復号し、x-NETAPP を含むキーだけを返す。
func VendorAttributes(raw string) map[string]string {
	attrs := make(map[string]string)
	for k, v := range codec.DecodeBracketList(raw) {
		if strings.Contains(k, domain.NetAppHeader) {
			attrs[k] = v
		}
	}
	return attrs
}

func matchAttributes(attrs, want map[string]string) bool {
	for k, v := range want {
		got, ok := attrs[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

// selectClients は名前指定があればそのクライアントだけを返す。
// 見つからなければ ErrClientNotFound、対象種別のオブジェクトが無ければ ErrClientEmpty。
func selectClients(clients []domain.Client, name string, types []domain.ObjectType) ([]domain.Client, error) {
	if name == "" {
		return clients, nil
	}
	for _, c := range clients {
		if c.Name != name {
			continue
		}
		if len(typesPresent(c.ObjectCounts(), types)) == 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrClientEmpty, name)
		}
		return []domain.Client{c}, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrClientNotFound, name)
}

func typesPresent(counts map[domain.ObjectType]int, types []domain.ObjectType) []domain.ObjectType {
	var present []domain.ObjectType
	for _, t := range types {
		if counts[t] > 0 {
			present = append(present, t)
		}
	}
	return present
}
