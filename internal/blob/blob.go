// Package blob はコンテンツアドレス型のブロブストレージを提供する。
// データは内容のSHA-256ハッシュ（16進文字列）をContentIDとして識別する。
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrNotFound は指定ContentIDのブロブが存在しないことを示す。
var ErrNotFound = errors.New("blob not found")

// Store はコンテンツアドレス型ストレージのインターフェース。
// 同じ内容のPutは常に同じContentIDを返し、冪等である。
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, contentID string) ([]byte, error)
}

// ContentID はdataのContentIDを計算する。
func ContentID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// verify は取得したデータがContentIDと一致するかを検証する。
func verify(contentID string, data []byte) error {
	if ContentID(data) != contentID {
		return errors.New("blob content does not match content id")
	}
	return nil
}
