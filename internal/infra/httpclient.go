package infra

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"krest/internal/domain"
)

// maxErrorBody はエラーメッセージに含めるレスポンス本文の最大長。
const maxErrorBody = 512

// HTTPOptions はベンダーAPIクライアント共通の接続設定。
type HTTPOptions struct {
	Timeout  time.Duration
	Insecure bool // サーバ証明書を検証しない（自己署名証明書のアプライアンス向け）
}

// newRESTClient は otelhttp で計装したトランスポートを持つ resty クライアントを生成する。
func newRESTClient(baseURL, prefix string, opts HTTPOptions) *resty.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // --insecure 指定時のみ
	}

	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(transport),
		Timeout:   opts.Timeout,
	}

	return resty.NewWithClient(httpClient).
		SetBaseURL(baseURL+prefix).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

// checkResponse は通信エラーと期待外のステータスを分類する。
// 通信エラーは ErrNetwork、期待外のステータスは kind を持つ APIError になる。
func checkResponse(operation string, kind error, resp *resty.Response, err error, expected ...int) error {
	if err != nil {
		return fmt.Errorf("%s: %w: %w", operation, domain.ErrNetwork, err)
	}
	if slices.Contains(expected, resp.StatusCode()) {
		return nil
	}

	body := string(resp.Body())
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &domain.APIError{
		Kind:       kind,
		Operation:  operation,
		StatusCode: resp.StatusCode(),
		Message:    body,
	}
}

// errDecode はレスポンス本文のJSONが解釈できない場合のエラー。
var errDecode = errors.New("failed to decode response")

// decodeJSON はレスポンス本文を v に読み込む。失敗時は kind に分類する。
func decodeJSON(operation string, kind error, resp *resty.Response, v any) error {
	if err := json.Unmarshal(resp.Body(), v); err != nil {
		return fmt.Errorf("%s: %w: %w: %w", operation, kind, errDecode, err)
	}
	return nil
}
