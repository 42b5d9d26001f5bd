package domain

import "strings"

// UsageToken は移行元が文字列で表現する暗号利用マスクの1要素を表す。
type UsageToken string

const (
	UsageSign               UsageToken = "SIGN"
	UsageVerify             UsageToken = "VERIFY"
	UsageEncrypt            UsageToken = "ENCRYPT"
	UsageDecrypt            UsageToken = "DECRYPT"
	UsageWrapKey            UsageToken = "WRAP_KEY"
	UsageUnwrapKey          UsageToken = "UNWRAP_KEY"
	UsageExport             UsageToken = "EXPORT"
	UsageMACGenerate        UsageToken = "MAC_GENERATE"
	UsageMACVerify          UsageToken = "MAC_VERIFY"
	UsageDeriveKey          UsageToken = "DERIVE_KEY"
	UsageContentCommitment  UsageToken = "CONTENT_COMMITMENT"
	UsageKeyAgreement       UsageToken = "KEY_AGREEMENT"
	UsageCertificateSign    UsageToken = "CERTIFICATE_SIGN"
	UsageCRLSign            UsageToken = "CRL_SIGN"
	UsageGenerateCryptogram UsageToken = "GENERATE_CRYPTOGRAM"
	UsageValidateCryptogram UsageToken = "VALIDATE_CRYPTOGRAM"
	UsageTranslateEncrypt   UsageToken = "TRANSLATE_ENCRYPT"
	UsageTranslateDecrypt   UsageToken = "TRANSLATE_DECRYPT"
	UsageTranslateWrap      UsageToken = "TRANSLATE_WRAP"
	UsageTranslateUnwrap    UsageToken = "TRANSLATE_UNWRAP"

	// UsageUnknown は対応表に無いトークンを表す。
	UsageUnknown UsageToken = ""
)

// usageMaskTable は KMIP Cryptographic Usage Mask のビット値。
var usageMaskTable = map[UsageToken]int{
	UsageSign:               0x00000001,
	UsageVerify:             0x00000002,
	UsageEncrypt:            0x00000004,
	UsageDecrypt:            0x00000008,
	UsageWrapKey:            0x00000010,
	UsageUnwrapKey:          0x00000020,
	UsageExport:             0x00000040,
	UsageMACGenerate:        0x00000080,
	UsageMACVerify:          0x00000100,
	UsageDeriveKey:          0x00000200,
	UsageContentCommitment:  0x00000400,
	UsageKeyAgreement:       0x00000800,
	UsageCertificateSign:    0x00001000,
	UsageCRLSign:            0x00002000,
	UsageGenerateCryptogram: 0x00004000,
	UsageValidateCryptogram: 0x00008000,
	UsageTranslateEncrypt:   0x00010000,
	UsageTranslateDecrypt:   0x00020000,
	UsageTranslateWrap:      0x00040000,
	UsageTranslateUnwrap:    0x00080000,
}

// UsageTokens は既知のトークンをビット順に返す。
func UsageTokens() []UsageToken {
	return []UsageToken{
		UsageSign, UsageVerify, UsageEncrypt, UsageDecrypt, UsageWrapKey,
		UsageUnwrapKey, UsageExport, UsageMACGenerate, UsageMACVerify, UsageDeriveKey,
		UsageContentCommitment, UsageKeyAgreement, UsageCertificateSign, UsageCRLSign,
		UsageGenerateCryptogram, UsageValidateCryptogram, UsageTranslateEncrypt,
		UsageTranslateDecrypt, UsageTranslateWrap, UsageTranslateUnwrap,
	}
}

// ParseUsageToken は文字列をトークンに変換する。未知の場合は UsageUnknown と false を返す。
func ParseUsageToken(s string) (UsageToken, bool) {
	t := UsageToken(s)
	if _, ok := usageMaskTable[t]; !ok {
		return UsageUnknown, false
	}
	return t, true
}

// Mask はトークンのビット値を返す。未知のトークンは0。
func (t UsageToken) Mask() int {
	return usageMaskTable[t]
}

// UsageMask は空白区切りの利用マスク文字列をビットマスクに変換する。
// 対応表に無いトークンはビットに寄与せず、unknown に出現順で返す。
func UsageMask(s string) (mask int, unknown []string) {
	for _, field := range strings.Fields(s) {
		t, ok := ParseUsageToken(field)
		if !ok {
			unknown = append(unknown, field)
			continue
		}
		mask |= t.Mask()
	}
	return mask, unknown
}
