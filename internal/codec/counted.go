package codec

import "strings"

// ParseCountedTypeString は "Symmetric Key (128) Secret Data (4)" を
// ["Symmetric Key", "128", "Secret Data", "4"] に変換する。
// 括弧を区切りに置き換えて分割し、奇数個になった場合は末尾の要素を捨てる。
func ParseCountedTypeString(s string) []string {
	replaced := strings.NewReplacer("(", ",", ")", ",").Replace(strings.TrimSpace(s))
	parts := strings.Split(replaced, ",")
	if len(parts)%2 == 1 {
		parts = parts[:len(parts)-1]
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// PairsToMapping は隣り合う要素をキーと値として畳み込む。前後の空白は取り除く。
func PairsToMapping(seq []string) map[string]string {
	m := make(map[string]string, len(seq)/2)
	for i := 0; i+1 < len(seq); i += 2 {
		m[strings.TrimSpace(seq[i])] = strings.TrimSpace(seq[i+1])
	}
	return m
}
