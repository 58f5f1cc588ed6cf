// Package identity はウォレットアドレスから表示名への解決を提供する。
package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/giftshare/internal/model"
)

// StaticResolver は設定から読み込んだ固定の対応表で表示名を解決する。
// 起動後は変更されないため、ロックなしで並行に参照できる。
type StaticResolver struct {
	names map[model.Address]string
}

// NewStaticResolver はアドレスと表示名の対応表からStaticResolverを生成する。
func NewStaticResolver(names map[model.Address]string) *StaticResolver {
	m := make(map[model.Address]string, len(names))
	for addr, name := range names {
		m[addr] = name
	}
	return &StaticResolver{names: m}
}

// Resolve はアドレスの表示名を返す。登録されていない場合はfalseを返す。
func (r *StaticResolver) Resolve(ctx context.Context, address model.Address) (string, bool, error) {
	name, ok := r.names[address]
	return name, ok, nil
}

// ParseDisplayNames は "0xaddr=名前,0xaddr2=名前2" 形式の文字列を解析する。
// アドレスは正規化され、空の要素は無視する。
func ParseDisplayNames(s string) (map[model.Address]string, error) {
	names := make(map[model.Address]string)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		rawAddr, name, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid display name entry %q: expected address=name", entry)
		}
		addr, err := model.ParseAddress(rawAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid display name entry %q: %w", entry, err)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("invalid display name entry %q: empty name", entry)
		}
		names[addr] = name
	}
	return names, nil
}
