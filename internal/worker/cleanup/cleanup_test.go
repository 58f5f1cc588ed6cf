package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/giftshare/internal/clock"
	"github.com/hitoshi/giftshare/internal/metrics"
	"github.com/hitoshi/giftshare/internal/model"
	"github.com/hitoshi/giftshare/internal/repository"
)

var epoch = time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)

// mockExpirer はExpirerのモック実装。
type mockExpirer struct {
	mu       sync.Mutex
	calls    []time.Time
	expireFn func(ctx context.Context, now time.Time) (int64, error)
}

func (m *mockExpirer) ExpirePendingInvites(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	m.calls = append(m.calls, now)
	m.mu.Unlock()
	if m.expireFn != nil {
		return m.expireFn(ctx, now)
	}
	return 0, nil
}

func (m *mockExpirer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// expiredMetrics は整理件数の記録を保持する。
type expiredMetrics struct {
	metrics.Nop
	recorded []int64
}

func (m *expiredMetrics) RecordInvitesExpired(count int64) {
	m.recorded = append(m.recorded, count)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func TestInviteExpiryJob_Run_UsesClockAndRecordsMetrics(t *testing.T) {
	var buf bytes.Buffer
	ledger := &mockExpirer{
		expireFn: func(ctx context.Context, now time.Time) (int64, error) { return 3, nil },
	}
	mc := &expiredMetrics{}
	job := NewInviteExpiryJob(ledger, clock.NewFake(epoch), mc, newTestLogger(&buf))

	count, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	if len(ledger.calls) != 1 || !ledger.calls[0].Equal(epoch) {
		t.Errorf("ExpirePendingInvites calls = %v, want [%v]", ledger.calls, epoch)
	}
	if len(mc.recorded) != 1 || mc.recorded[0] != 3 {
		t.Errorf("recorded = %v, want [3]", mc.recorded)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log: %v", err)
	}
	if entry["expired_count"] != float64(3) {
		t.Errorf("expired_count = %v, want 3", entry["expired_count"])
	}
}

func TestInviteExpiryJob_Run_Error(t *testing.T) {
	var buf bytes.Buffer
	ledger := &mockExpirer{
		expireFn: func(ctx context.Context, now time.Time) (int64, error) {
			return 0, errors.New("connection refused")
		},
	}
	mc := &expiredMetrics{}
	job := NewInviteExpiryJob(ledger, clock.NewFake(epoch), mc, newTestLogger(&buf))

	if _, err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(mc.recorded) != 0 {
		t.Errorf("metrics should not be recorded on failure: %v", mc.recorded)
	}

	var entry map[string]interface{}
	json.Unmarshal(buf.Bytes(), &entry)
	if entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}
}

// TestInviteExpiryJob_Run_PersistsExpiredStatus はメモリ台帳で承諾待ちの期限切れ招待だけが更新されることを検証する。
func TestInviteExpiryJob_Run_PersistsExpiredStatus(t *testing.T) {
	ctx := context.Background()
	ledger := repository.NewMemoryLedgerRepo()
	owner := model.Address("0x00000000000000000000000000000000000000a1")

	for i, expires := range []time.Time{epoch.Add(-time.Minute), epoch.Add(time.Hour)} {
		_, err := ledger.InsertPendingInvite(ctx, &model.Invite{
			ID:        []string{"inv-1", "inv-2"}[i],
			GiftID:    "gift-1",
			From:      owner,
			To:        model.Address([]string{"0x00000000000000000000000000000000000000b1", "0x00000000000000000000000000000000000000b2"}[i]),
			Role:      model.RoleViewer,
			CreatedAt: epoch.Add(-2 * time.Hour),
			ExpiresAt: expires,
		})
		if err != nil {
			t.Fatalf("InsertPendingInvite: %v", err)
		}
	}

	job := NewInviteExpiryJob(ledger, clock.NewFake(epoch), nil, nil)

	count, err := job.Run(ctx)
	if err != nil || count != 1 {
		t.Fatalf("Run = %d, %v; want 1, nil", count, err)
	}

	expired, _ := ledger.GetInvite(ctx, "inv-1")
	if expired.Status != model.InviteStatusExpired {
		t.Errorf("inv-1 status = %s, want expired", expired.Status)
	}
	pending, _ := ledger.GetInvite(ctx, "inv-2")
	if pending.Status != model.InviteStatusPending {
		t.Errorf("inv-2 status = %s, want pending", pending.Status)
	}

	// 冪等: 2回目は何も更新しない
	count, _ = job.Run(ctx)
	if count != 0 {
		t.Errorf("second run count = %d, want 0", count)
	}
}

func TestInviteExpiryJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	ledger := &mockExpirer{}
	job := NewInviteExpiryJob(ledger, clock.NewFake(epoch), nil, newTestLogger(&bytes.Buffer{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for ledger.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ledger.callCount() != 1 {
		t.Fatalf("call count = %d, want 1 immediate run", ledger.callCount())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
