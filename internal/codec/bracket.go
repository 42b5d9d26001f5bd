// Package codec は移行元ベンダーが返すブラケット形式・件数形式の文字列を
// キーと値の組に変換する。
package codec

import "strings"

const (
	nameMarker  = "NAME "
	valueMarker = "VALUE "
)

// Pair はブラケット形式から取り出した NAME と VALUE の組。
type Pair struct {
	Name  string
	Value string
}

// DecodeBracketPairs は "[[NAME k1] [INDEX 0] [TYPE Text] [VALUE v1]] ..." を出現順の組に変換する。
// NAME の後、次の NAME より前に VALUE が無い場合、その NAME の値は空文字列になる。
func DecodeBracketPairs(s string) []Pair {
	var pairs []Pair
	rest := strings.TrimSpace(s)

	for {
		i := strings.Index(rest, nameMarker)
		if i < 0 {
			return pairs
		}
		name, tail := sliceToBracket(rest[i+len(nameMarker):])
		rest = tail

		v := strings.Index(rest, valueMarker)
		next := strings.Index(rest, nameMarker)
		if v < 0 || (next >= 0 && next < v) {
			pairs = append(pairs, Pair{Name: name})
			continue
		}
		value, tail := sliceToBracket(rest[v+len(valueMarker):])
		rest = tail
		pairs = append(pairs, Pair{Name: name, Value: value})
	}
}

// DecodeBracketList は DecodeBracketPairs の結果をマップにする。同じ NAME は後勝ち。
func DecodeBracketList(s string) map[string]string {
	m := make(map[string]string)
	for _, p := range DecodeBracketPairs(s) {
		m[p.Name] = p.Value
	}
	return m
}

// ExtractBracketValue は最初の "VALUE ... ]" の中身を返す。
// VALUE が無い場合は前後のブラケットと空白を取り除いた入力を返す。
func ExtractBracketValue(s string) string {
	trimmed := strings.TrimSpace(s)
	i := strings.Index(trimmed, valueMarker)
	if i < 0 {
		return strings.TrimSpace(strings.Trim(trimmed, "[]"))
	}
	value, _ := sliceToBracket(trimmed[i+len(valueMarker):])
	return value
}

// DigestHex はブラケット形式のダイジェスト
// "[[INDEX 0] [HASH SHA256] [VALUE xcc,x43,...] [DIGESTED_KEY_FORMAT RAW]]" から16進文字だけを返す。
func DigestHex(s string) string {
	value := ExtractBracketValue(s)
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// sliceToBracket は次の "]" までを値として返し、残りは "]" から始まる文字列を返す。
// "]" が無い場合は末尾までを値とする。
func sliceToBracket(s string) (value, rest string) {
	end := strings.Index(s, "]")
	if end < 0 {
		return strings.TrimSpace(s), ""
	}
	return strings.TrimSpace(s[:end]), s[end:]
}
