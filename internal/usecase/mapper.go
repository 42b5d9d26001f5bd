package usecase

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"krest/internal/codec"
	"krest/internal/domain"
)

// 移行先がシークレットに対して常に使う値。
const (
	secretAlgorithm  = "SEED"
	secretObjectType = "Secret Data"
	customAttrType   = "string"
)

// UnknownUsageHook は対応表に無い利用マスクのトークンを見つけたときに呼ばれる。
type UnknownUsageHook func(src domain.SourceObject, tokens []string)

// Mapper は移行元オブジェクトを移行先のスキーマに変換する。
type Mapper struct {
	onUnknownUsage UnknownUsageHook
	title          cases.Caser
}

// NewMapper は新しいMapperを生成する。hook が nil なら未知のトークンは黙って無視する。
func NewMapper(hook UnknownUsageHook) *Mapper {
	return &Mapper{
		onUnknownUsage: hook,
		title:          cases.Title(language.Und),
	}
}

// MapKeyObject は対称鍵を変換する。名前はエイリアスから前後のブラケットを取り除いたもの。
func (m *Mapper) MapKeyObject(src domain.SourceObject, ownerID string) (domain.DestinationObject, error) {
	name := strings.TrimSpace(strings.Trim(src.Alias, "[]"))
	if name == "" {
		return domain.DestinationObject{}, fmt.Errorf("key %s: %w", src.UUID, domain.ErrMissingName)
	}

	size, err := parseSize(src.Length)
	if err != nil {
		return domain.DestinationObject{}, fmt.Errorf("key %s: %w", name, err)
	}

	objectType := src.ObjectType.Label()
	if objectType == "" {
		objectType = m.title.String(strings.ReplaceAll(string(src.ObjectType), "_", " "))
	}

	return domain.DestinationObject{
		Name:       name,
		UsageMask:  m.usageMask(src),
		Algorithm:  src.Algorithm,
		Size:       size,
		ObjectType: objectType,
		Material:   src.Material,
		Format:     strings.ToLower(src.Format),
		Meta:       buildMeta(src, ownerID),
	}, nil
}

// MapSecretObject はシークレットを変換する。名前はブラケット形式の名前の VALUE で、別名にも同じ値を入れる。
func (m *Mapper) MapSecretObject(src domain.SourceObject, ownerID string) (domain.DestinationObject, error) {
	name := codec.ExtractBracketValue(src.Name)
	if name == "" {
		return domain.DestinationObject{}, fmt.Errorf("secret %s: %w", src.UUID, domain.ErrMissingName)
	}

	size, err := parseSize(src.Length)
	if err != nil {
		return domain.DestinationObject{}, fmt.Errorf("secret %s: %w", name, err)
	}

	index := 0
	return domain.DestinationObject{
		Name:       name,
		Aliases:    []domain.Alias{{Alias: name, Type: customAttrType, Index: &index}},
		UsageMask:  m.usageMask(src),
		State:      m.title.String(strings.ReplaceAll(src.State, "_", "-")),
		Algorithm:  secretAlgorithm,
		ObjectType: secretObjectType,
		Size:       size,
		DataType:   strings.ToLower(src.SecretType),
		Material:   src.Material,
		Format:     strings.ToLower(src.Format),
		Meta:       buildMeta(src, ownerID),
	}, nil
}

// Map は種別に応じて MapKeyObject か MapSecretObject を呼ぶ。
func (m *Mapper) Map(src domain.SourceObject, ownerID string) (domain.DestinationObject, error) {
	if src.ObjectType == domain.ObjectTypeSecretData {
		return m.MapSecretObject(src, ownerID)
	}
	return m.MapKeyObject(src, ownerID)
}

func (m *Mapper) usageMask(src domain.SourceObject) int {
	mask, unknown := domain.UsageMask(src.UsageMask)
	if len(unknown) > 0 && m.onUnknownUsage != nil {
		m.onUnknownUsage(src, unknown)
	}
	return mask
}

// buildMeta は所有者と、x-NETAPP 名前空間のカスタム属性を meta.kmip.custom に入れる。
func buildMeta(src domain.SourceObject, ownerID string) domain.Meta {
	meta := domain.Meta{OwnerID: ownerID}

	var custom []domain.CustomAttribute
	seen := make(map[string]int)
	for _, p := range codec.DecodeBracketPairs(src.CustomAttributes) {
		if !strings.Contains(p.Name, domain.NetAppHeader) {
			continue
		}
		if i, ok := seen[p.Name]; ok {
			custom[i].Value = p.Value
			continue
		}
		seen[p.Name] = len(custom)
		custom = append(custom, domain.CustomAttribute{Type: customAttrType, Index: 0, Name: p.Name, Value: p.Value})
	}
	if len(custom) > 0 {
		meta.KMIP = &domain.KMIPMeta{Custom: custom}
	}
	return meta
}

func parseSize(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid cryptographic length %q: %w", s, err)
	}
	return n, nil
}
