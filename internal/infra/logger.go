package infra

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"krest/config"
	"krest/internal/middleware"
)

// redacted は秘匿属性の値の置き換え文字列。
const redacted = "[REDACTED]"

// secretAttrKeys は値をログに出さない属性キー。比較は小文字で行う。
var secretAttrKeys = map[string]bool{
	"password":    true,
	"srcpass":     true,
	"dstpass":     true,
	"token":       true,
	"material":    true,
	"keymaterial": true,
}

// ContextHandler はコンテキストから移行実行IDとトレース情報を取り出してログに付与するslogハンドラ。
type ContextHandler struct {
	next         slog.Handler
	withTrace    bool
	traceProject string // Cloud Logging のトレース参照に使う。空なら付与しない
}

// NewContextHandler は next をラップした ContextHandler を生成する。
// トレース情報は OTEL_ENABLED のときだけ付与する。
func NewContextHandler(next slog.Handler, cfg *config.Config) *ContextHandler {
	return &ContextHandler{
		next:         next,
		withTrace:    cfg.OtelEnabled,
		traceProject: cfg.GoogleCloudProject,
	}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(h.contextAttrs(ctx)...)
	return h.next.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.wrap(h.next.WithAttrs(attrs))
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return h.wrap(h.next.WithGroup(name))
}

func (h *ContextHandler) wrap(next slog.Handler) *ContextHandler {
	c := *h
	c.next = next
	return &c
}

// contextAttrs は run_id とトレース関連の属性を返す。
func (h *ContextHandler) contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if id := middleware.RunIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String("run_id", id))
	}
	if !h.withTrace {
		return attrs
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return attrs
	}
	traceID := sc.TraceID().String()
	attrs = append(attrs,
		slog.String("trace", traceID),
		slog.String("spanId", sc.SpanID().String()),
		slog.Bool("traceSampled", sc.IsSampled()),
	)
	if h.traceProject != "" {
		attrs = append(attrs, slog.String("logging.googleapis.com/trace", "projects/"+h.traceProject+"/traces/"+traceID))
	}
	return attrs
}

// redactSecrets は資格情報や鍵素材と思われる属性の値を伏せる。
func redactSecrets(groups []string, a slog.Attr) slog.Attr {
	if secretAttrKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// ParseLevel は DEBUG / INFO / WARN / ERROR を slog.Level に変換する。不明な値は INFO。
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger はJSON形式のグローバルロガーを w に出力するよう設定する。
// 一覧表示は標準出力を使うため、通常は標準エラー出力を渡す。
func SetupLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(cfg.LogLevel),
		ReplaceAttr: redactSecrets,
	})
	logger := slog.New(NewContextHandler(jsonHandler, cfg))
	slog.SetDefault(logger)
	return logger
}
