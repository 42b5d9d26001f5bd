package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication はログインが2xx以外で拒否された場合のエラー。
	ErrAuthentication = errors.New("authentication failed")

	// ErrNetwork はHTTP通信そのものが失敗した場合のエラー。
	ErrNetwork = errors.New("network failure")

	// ErrRetrieval は一覧取得・詳細取得が2xx以外を返した場合のエラー。
	ErrRetrieval = errors.New("retrieval failed")

	// ErrUpload はオブジェクト作成が201以外を返した場合のエラー。
	ErrUpload = errors.New("upload failed")

	// ErrGroup はグループ操作が失敗した場合のエラー。
	ErrGroup = errors.New("group operation failed")

	// ErrExportSkipped はエクスポート不可のオブジェクトをスキップしたことを表す。失敗ではない。
	ErrExportSkipped = errors.New("export skipped: object is unexportable")

	// ErrMissingName は名前またはエイリアスが空のオブジェクトを変換しようとした場合のエラー。
	ErrMissingName = errors.New("object has no alias or name")

	// ErrClientNotFound は指定されたクライアントが移行元に存在しない場合のエラー。
	ErrClientNotFound = errors.New("source client not found")

	// ErrClientEmpty は指定されたクライアントに移行対象のオブジェクトが無い場合のエラー。
	ErrClientEmpty = errors.New("source client has no symmetric keys or secret objects")

	// ErrPartialMigration は一部のオブジェクトのアップロードに失敗した場合のエラー。
	ErrPartialMigration = errors.New("partial migration")

	// ErrInvalidConfig は設定値が不正な場合のエラー。
	ErrInvalidConfig = errors.New("invalid configuration")
)

// APIError はベンダーREST APIが期待外のステータスを返したことを表す。
// Kind には上記のセンチネルエラーのいずれかを設定する。
type APIError struct {
	Kind       error
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %v (status %d)", e.Operation, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v (status %d): %s", e.Operation, e.Kind, e.StatusCode, e.Message)
}

// Unwrap は errors.Is で分類できるよう Kind を返す。
func (e *APIError) Unwrap() error {
	return e.Kind
}
