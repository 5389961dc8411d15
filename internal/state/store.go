// Package state 는 invocation 사이에 유지되는 PollState 의 영속 저장소다.
package state

import (
	"context"
	"fmt"
	"time"

	"f1-poller/internal/model"

	json "github.com/goccy/go-json"
)

// Store
//
// 단일 PollState 레코드를 읽고 쓴다.
//   - Load: 저장된 값이 없으면 (nil, nil). "없음" 은 정상 상태(첫 실행)다.
//   - Save: last-writer-wins. 낙관적 동시성 검사는 없다.
type Store interface {
	Load(ctx context.Context) (*model.PollState, error)
	Save(ctx context.Context, st *model.PollState) error
}

// Locker 는 lease 를 지원하는 Store 가 추가로 구현한다.
// invocation 이 겹칠 수 있는 환경에서 같은 state 를 두 invocation 이
// 동시에 갱신하지 않도록 막는다.
type Locker interface {
	// Acquire 는 owner 로 lease 를 잡는다. 다른 owner 가 잡고 있으면 false.
	Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	// Release 는 owner 가 잡은 lease 만 푼다.
	Release(ctx context.Context, owner string) error
}

// encode / decode 는 모든 backend 가 공유하는 직렬화 형식.
func encode(st *model.PollState) ([]byte, error) {
	return json.Marshal(st)
}

func decode(raw []byte) (*model.PollState, error) {
	var st model.PollState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode poll state: %w", err)
	}
	if st.Cursors == nil {
		st.Cursors = make(map[string]string)
	}
	return &st, nil
}
