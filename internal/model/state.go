// internal/model/state.go
package model

// PollState
// ------------------------------------------------------------
// invocation 사이에 유지되는 유일한 영속 상태.
//
//   - SessionKey: 추적 중인 세션. 최초 세션 감지 전에만 비어 있다.
//   - InvocationCount: cycle 카운터. scheduler 의 회전 위상이 invocation 경계를
//     넘어도 유지되도록 invocation 마다 리셋하지 않는다. 세션이 바뀔 때만 0.
//   - Cursors: endpoint 이름 → 마지막으로 보낸 레코드의 timestamp.
//     항목이 없으면 cursor 없음(세션 처음부터 조회).
//
// JSON 필드명은 기존 SSM 파라미터 값과 호환되도록 snake_case 를 유지한다.
type PollState struct {
	SessionKey      string            `json:"session_key"`
	InvocationCount uint64            `json:"invocation_count"`
	Cursors         map[string]string `json:"cursors"`
}

// NewPollState 는 새 세션용 초기 상태를 만든다.
func NewPollState(sessionKey string) *PollState {
	return &PollState{
		SessionKey: sessionKey,
		Cursors:    make(map[string]string),
	}
}

// Cursor 는 endpoint 의 cursor 를 돌려준다. 없으면 "".
func (s *PollState) Cursor(endpoint string) string {
	if s.Cursors == nil {
		return ""
	}
	return s.Cursors[endpoint]
}

// Advance 는 newCursor 가 현재 값보다 클 때만 cursor 를 옮긴다.
// cursor 는 절대 뒤로 가지 않는다.
func (s *PollState) Advance(endpoint, newCursor string) bool {
	if newCursor == "" {
		return false
	}
	if s.Cursors == nil {
		s.Cursors = make(map[string]string)
	}
	if cur, ok := s.Cursors[endpoint]; ok && cur >= newCursor {
		return false
	}
	s.Cursors[endpoint] = newCursor
	return true
}
