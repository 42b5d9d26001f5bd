// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import (
	"fmt"
	"net"
	"time"
)

// Credential は接続先ごとの認証情報を表す。実行中に変更しない。
type Credential struct {
	Host     string
	Port     string
	Username string
	Password string
}

// BaseURL は https://host:port 形式のURLを返す。
func (c Credential) BaseURL() string {
	return fmt.Sprintf("https://%s", net.JoinHostPort(c.Host, c.Port))
}

// Endpoint は接続先の種別を表す。
type Endpoint string

const (
	EndpointSource      Endpoint = "source"
	EndpointDestination Endpoint = "destination"
)

// AuthToken はログインで得たトークンを表す。更新時は置き換え、書き換えない。
type AuthToken struct {
	Value     string
	Scheme    string
	CreatedAt time.Time
	ExpiresAt time.Time // サーバが通知した期限（診断用、ゼロ値もあり得る）
}

// Header は Authorization ヘッダの値を返す。
func (t AuthToken) Header() string {
	if t.Scheme == "" {
		return t.Value
	}
	return t.Scheme + " " + t.Value
}

// IsZero はトークンが未取得かどうかを返す。
func (t AuthToken) IsZero() bool {
	return t.Value == ""
}
