package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
)

var ErrNonPositiveRange = errors.New("随机数范围必须大于0")

// RandInt63n 返回 [0, n) 内均匀分布的随机数，随机源为 crypto/rand
func RandInt63n(n int64) (int64, error) {
	if n <= 0 {
		return 0, ErrNonPositiveRange
	}
	r, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return r.Int64(), nil
}

// HMACSHA256 十六进制编码的 HMAC-SHA256
func HMACSHA256(data, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHMACSHA256 常量时间比较签名
func VerifyHMACSHA256(data, secret []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, secret)
	h.Write(data)
	return hmac.Equal(h.Sum(nil), expected)
}
