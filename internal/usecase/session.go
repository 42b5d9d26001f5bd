package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"krest/internal/domain"
)

// DestinationTokenTTL は移行先トークンを使い続けてよい時間。
// サーバ側の有効期限は300秒で、それより手前で更新する。
const DestinationTokenTTL = 275 * time.Second

// Authenticator は資格情報と引き換えにトークンを発行する。
type Authenticator interface {
	Login(ctx context.Context, cred domain.Credential) (domain.AuthToken, error)
}

// Session は1つの接続先のトークンを保持し、必要になった時点でログインし直す。
// 単一のゴルーチンから使う前提で、排他制御はしない。
type Session struct {
	endpoint domain.Endpoint
	cred     domain.Credential
	auth     Authenticator
	now      func() time.Time
	ttl      time.Duration // 0 は期限なし
	token    domain.AuthToken
	logins   int
}

// SessionOption は Session の生成オプション。
type SessionOption func(*Session)

// WithClock は現在時刻の取得方法を差し替える。
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// NewSourceSession は移行元のセッションを生成する。移行元のトークンは実行中に失効しない前提で扱う。
func NewSourceSession(cred domain.Credential, auth Authenticator, opts ...SessionOption) *Session {
	return newSession(domain.EndpointSource, cred, auth, 0, opts)
}

// NewDestinationSession は移行先のセッションを生成する。トークンは DestinationTokenTTL を過ぎると更新する。
func NewDestinationSession(cred domain.Credential, auth Authenticator, opts ...SessionOption) *Session {
	return newSession(domain.EndpointDestination, cred, auth, DestinationTokenTTL, opts)
}

func newSession(endpoint domain.Endpoint, cred domain.Credential, auth Authenticator, ttl time.Duration, opts []SessionOption) *Session {
	s := &Session{
		endpoint: endpoint,
		cred:     cred,
		auth:     auth,
		now:      time.Now,
		ttl:      ttl,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NeedsRefresh は次の呼び出しの前にログインが必要かを返す。
func (s *Session) NeedsRefresh() bool {
	if s.token.IsZero() {
		return true
	}
	return s.ttl > 0 && s.now().Sub(s.token.CreatedAt) > s.ttl
}

// Token は有効なトークンを返す。未取得または期限切れなら同期的にログインする。
func (s *Session) Token(ctx context.Context) (domain.AuthToken, error) {
	if !s.NeedsRefresh() {
		return s.token, nil
	}

	refreshing := !s.token.IsZero()
	tok, err := s.auth.Login(ctx, s.cred)
	if err != nil {
		slog.ErrorContext(ctx, "login failed",
			"operation", "login",
			"endpoint", s.endpoint,
			"host", s.cred.Host,
			"error", err,
		)
		return domain.AuthToken{}, fmt.Errorf("%s login: %w", s.endpoint, err)
	}
	tok.CreatedAt = s.now()
	s.token = tok
	s.logins++

	if refreshing {
		slog.InfoContext(ctx, "authorization token refreshed",
			"operation", "login",
			"endpoint", s.endpoint,
		)
	}
	return s.token, nil
}

// Logins はこれまでにログインした回数を返す。
func (s *Session) Logins() int {
	return s.logins
}
