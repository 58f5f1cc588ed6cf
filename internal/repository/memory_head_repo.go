package repository

import (
	"context"
	"sync"
)

// MemoryHeadRepo はインメモリのHeadStore実装。
type MemoryHeadRepo struct {
	mu    sync.Mutex
	heads map[string]MetadataHead
}

// NewMemoryHeadRepo はMemoryHeadRepoを生成する。
func NewMemoryHeadRepo() *MemoryHeadRepo {
	return &MemoryHeadRepo{heads: make(map[string]MetadataHead)}
}

func (r *MemoryHeadRepo) GetHead(ctx context.Context, giftID string) (*MetadataHead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	head, ok := r.heads[giftID]
	if !ok {
		return nil, nil
	}
	return &head, nil
}

func (r *MemoryHeadRepo) CreateHead(ctx context.Context, head *MetadataHead) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.heads[head.GiftID]; ok {
		return ErrHeadExists
	}
	r.heads[head.GiftID] = *head
	return nil
}

func (r *MemoryHeadRepo) CompareAndSwapHead(ctx context.Context, expectedVersion int64, head *MetadataHead) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.heads[head.GiftID]
	if !ok || current.Version != expectedVersion {
		return ErrVersionMismatch
	}
	r.heads[head.GiftID] = *head
	return nil
}

var _ HeadStore = (*MemoryHeadRepo)(nil)
