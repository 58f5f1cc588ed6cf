// Package clock は現在時刻の供給源を提供する。
// 招待の期限判定はすべてこの抽象を経由するため、テストでは時刻を自由に進められる。
package clock

import (
	"sync"
	"time"
)

// Clock は現在時刻を返すインターフェース。
type Clock interface {
	Now() time.Time
}

// System は実時刻を返すClock。
type System struct{}

// Now は現在のUTC時刻をマイクロ秒に切り捨てて返す。
// PostgreSQLのTIMESTAMPTZと同じ精度にそろえ、保存前後で時刻が変わらないようにする。
func (System) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Fake はテスト用の手動で進めるClock。
// 複数のgoroutineから安全に利用できる。
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake は指定時刻で停止したFakeを生成する。
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now は現在の仮想時刻を返す。
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance は仮想時刻をdだけ進める。
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set は仮想時刻を指定時刻に設定する。
func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

var (
	_ Clock = System{}
	_ Clock = (*Fake)(nil)
)
