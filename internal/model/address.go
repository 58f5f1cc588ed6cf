// Package model はドメインモデルを定義する。
package model

import (
	"encoding/hex"
	"strings"
)

// Address はウォレットアドレスを表す。
// 常に小文字に正規化された "0x" + 40桁の16進数として保持する。
type Address string

// addressHexLen は "0x" を除いたアドレスの16進数桁数。
const addressHexLen = 40

// ParseAddress は文字列をウォレットアドレスとして検証し、正規化して返す。
// EIP-55のチェックサム付き表記と小文字表記は同一アドレスとして扱う。
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) != addressHexLen+2 || !(strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		return "", NewInvalidAddressError(s)
	}
	lower := strings.ToLower(s[2:])
	if _, err := hex.DecodeString(lower); err != nil {
		return "", NewInvalidAddressError(s)
	}
	return Address("0x" + lower), nil
}

// String はアドレス文字列を返す。
func (a Address) String() string {
	return string(a)
}
