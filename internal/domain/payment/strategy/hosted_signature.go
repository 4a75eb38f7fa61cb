package strategy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

const signatureField = "signature"

var (
	errMissingSignature = errors.New("missing signature")
	errBadSignature     = errors.New("signature mismatch")
	errAmbiguousField   = errors.New("field value contains '&' or '='")
)

// 规范串不做转义，值里出现 & 或 = 时不同的字段划分会得到同一个串
const reservedChars = "&="

var buyerValueReplacer = strings.NewReplacer("&", " ", "=", " ")

// safeValue 发往网关的买家信息去掉保留字符，保证回调原样带回时仍可验签
func safeValue(v string) string {
	return buyerValueReplacer.Replace(v)
}

// CanonicalString 除 signature 外的所有字段按 key 排序，以 k=v 用 & 连接
func CanonicalString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == signatureField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

// Sign HMAC-SHA256 十六进制签名
func Sign(secret string, fields map[string]string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalString(fields)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature 常量时间比较，含保留字符的字段直接拒绝
func VerifySignature(secret string, fields map[string]string) error {
	got, ok := fields[signatureField]
	if !ok || got == "" {
		return errMissingSignature
	}
	for k, v := range fields {
		if k != signatureField && strings.ContainsAny(v, reservedChars) {
			return fmt.Errorf("%w: %s", errAmbiguousField, k)
		}
	}
	want := Sign(secret, fields)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(got))) {
		return errBadSignature
	}
	return nil
}
