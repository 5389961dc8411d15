package state

import (
	"context"
	"sync"

	"f1-poller/internal/model"
)

// MemoryStore 는 프로세스 메모리에만 state 를 두는 Store.
// 로컬 실행(STATE_BACKEND=memory)과 테스트용이며, 직렬화된 바이트를 보관해
// 호출자가 돌려받은 값을 고쳐도 저장본이 바뀌지 않는다.
type MemoryStore struct {
	mu  sync.Mutex
	raw []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) (*model.PollState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.raw == nil {
		return nil, nil
	}
	return decode(m.raw)
}

func (m *MemoryStore) Save(_ context.Context, st *model.PollState) error {
	raw, err := encode(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.raw = raw
	m.mu.Unlock()
	return nil
}
