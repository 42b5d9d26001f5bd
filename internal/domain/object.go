package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"krest/internal/codec"
)

// ObjectType は管理オブジェクトの種別を表す。
type ObjectType string

const (
	ObjectTypeSymmetricKey ObjectType = "SYMMETRIC_KEY"
	ObjectTypeSecretData   ObjectType = "SECRET_DATA"
	ObjectTypeUnknown      ObjectType = ""
)

// ParseObjectType は移行元の種別文字列（SYMMETRIC_KEY 等）を変換する。
func ParseObjectType(s string) ObjectType {
	switch ObjectType(strings.ToUpper(strings.TrimSpace(s))) {
	case ObjectTypeSymmetricKey:
		return ObjectTypeSymmetricKey
	case ObjectTypeSecretData:
		return ObjectTypeSecretData
	default:
		return ObjectTypeUnknown
	}
}

// Label はクライアント一覧の件数文字列で使われる表記（"Symmetric Key" 等）を返す。
// 移行先の objectType 表記と同じ。
func (t ObjectType) Label() string {
	switch t {
	case ObjectTypeSymmetricKey:
		return "Symmetric Key"
	case ObjectTypeSecretData:
		return "Secret Data"
	default:
		return ""
	}
}

// SourceObject は移行元から取得した鍵またはシークレットのスナップショット。
type SourceObject struct {
	UUID             string
	Alias            string // 鍵のみ。"[name]" 形式
	Name             string // シークレットのみ。ブラケット形式
	ObjectType       ObjectType
	Algorithm        string
	Length           string
	UsageMask        string // 空白区切りのトークン列
	Material         string
	Format           string
	CustomAttributes string // ブラケット形式の生文字列
	ClientName       string
	SecretType       string
	State            string
	Digest           string
}

// Alias は移行先オブジェクトの別名。Index 0 が主名。
type Alias struct {
	Alias string `json:"alias"`
	Type  string `json:"type,omitempty"`
	Index *int   `json:"index,omitempty"`
}

// CustomAttribute は移行先メタデータに格納するベンダー固有属性 {type, index, name: value}。
type CustomAttribute struct {
	Type  string
	Index int
	Name  string
	Value string
}

// MarshalJSON は属性名をJSONキーとして出力する。
func (a CustomAttribute) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":  a.Type,
		"index": a.Index,
		a.Name:  a.Value,
	})
}

// UnmarshalJSON は type, index 以外の最初の文字列キーを属性名として読み込む。
func (a *CustomAttribute) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = CustomAttribute{}
	for k, v := range raw {
		switch k {
		case "type":
			if err := json.Unmarshal(v, &a.Type); err != nil {
				return fmt.Errorf("custom attribute type: %w", err)
			}
		case "index":
			if err := json.Unmarshal(v, &a.Index); err != nil {
				return fmt.Errorf("custom attribute index: %w", err)
			}
		default:
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				continue
			}
			a.Name, a.Value = k, s
		}
	}
	return nil
}

// KMIPMeta は移行先メタデータ meta.kmip 配下。
type KMIPMeta struct {
	Custom []CustomAttribute `json:"custom,omitempty"`
}

// Meta は移行先オブジェクトのメタデータ。
type Meta struct {
	OwnerID     string              `json:"ownerId,omitempty"`
	KMIP        *KMIPMeta           `json:"kmip,omitempty"`
	Permissions map[string][]string `json:"permissions,omitempty"`
}

// DestinationObject は移行先の鍵またはシークレットを表す。
type DestinationObject struct {
	ID           string  `json:"id,omitempty"`
	UUID         string  `json:"uuid,omitempty"`
	Name         string  `json:"name"`
	Aliases      []Alias `json:"aliases,omitempty"`
	UsageMask    int     `json:"usageMask"`
	Algorithm    string  `json:"algorithm,omitempty"`
	Size         int     `json:"size,omitempty"`
	ObjectType   string  `json:"objectType,omitempty"`
	Material     string  `json:"material,omitempty"`
	Format       string  `json:"format,omitempty"`
	State        string  `json:"state,omitempty"`
	DataType     string  `json:"dataType,omitempty"`
	Meta         Meta    `json:"meta"`
	Unexportable bool    `json:"unexportable,omitempty"`
	Fingerprint  string  `json:"sha256Fingerprint,omitempty"`
}

// PrimaryAlias は Index 0 の別名を返す。無ければ名前を返す。
func (o DestinationObject) PrimaryAlias() string {
	for _, a := range o.Aliases {
		if a.Index == nil || *a.Index == 0 {
			return a.Alias
		}
	}
	return o.Name
}

// CustomAttributeMap は meta.kmip.custom を名前→値に変換する。
func (o DestinationObject) CustomAttributeMap() map[string]string {
	m := make(map[string]string)
	if o.Meta.KMIP == nil {
		return m
	}
	for _, a := range o.Meta.KMIP.Custom {
		m[a.Name] = a.Value
	}
	return m
}

// ObjectPage は移行先一覧APIの1ページ分。Total はサーバが報告する全件数。
type ObjectPage struct {
	Resources []DestinationObject
	Total     int
}

// ObjectPatch は移行先オブジェクトの部分更新ボディ。
type ObjectPatch struct {
	Aliases []Alias `json:"aliases,omitempty"`
	Meta    *Meta   `json:"meta,omitempty"`
}

// ExportedMaterial はエクスポートした鍵素材を表す。
type ExportedMaterial struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Material string `json:"material"`
	Format   string `json:"format,omitempty"`
}

// KeyEntry は移行元の鍵一覧 API が返す鍵の概要。鍵素材は含まない。
type KeyEntry struct {
	UUID         string `json:"uuid"`
	Alias        string `json:"alias"`
	KeyStoreName string `json:"key_store_name,omitempty"`
	KeyStoreUUID string `json:"key_store_uuid,omitempty"`
	Usage        string `json:"usage,omitempty"`
	KeyType      string `json:"key_type,omitempty"`
}

// Client は移行元のKMIPクライアント（オブジェクトのグループ）を表す。
type Client struct {
	Name               string
	ManagedObjectCount int
	ObjectSummary      string // 例: "Symmetric Key (128) Secret Data (4)"
	Users              []string
}

// HasUser は指定ユーザーがクライアントに割り当て済みかを返す。
func (c Client) HasUser(user string) bool {
	for _, u := range c.Users {
		if u == user {
			return true
		}
	}
	return false
}

// ObjectCounts は ObjectSummary を種別ごとの件数に変換する。
// 数値でない件数は 0 として扱う。
func (c Client) ObjectCounts() map[ObjectType]int {
	counts := make(map[ObjectType]int)
	for label, n := range codec.PairsToMapping(codec.ParseCountedTypeString(c.ObjectSummary)) {
		v, err := strconv.Atoi(n)
		if err != nil {
			v = 0
		}
		for _, t := range []ObjectType{ObjectTypeSymmetricKey, ObjectTypeSecretData} {
			if t.Label() == label {
				counts[t] += v
			}
		}
	}
	return counts
}

// Group は移行先のユーザーグループを表す。
type Group struct {
	Name  string
	Users []string
}

// User は移行先のユーザーを表す。
type User struct {
	ID       string
	Name     string
	Nickname string
}
