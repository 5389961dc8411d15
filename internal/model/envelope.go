// internal/model/envelope.go
package model

import (
	"time"

	json "github.com/goccy/go-json"
)

// GlobalPartition 은 partition key 가 없는 레코드의 파티션 키.
const GlobalPartition = "global"

// Envelope
// ------------------------------------------------------------
// stream 으로 보내는 모든 레코드의 공통 래퍼.
//
// IngestedAt 은 poller 가 envelope 를 만든 시각(ingestion time)이며
// 레코드 자체의 이벤트 시각(data 안의 date 등)과 구분된다.
type Envelope struct {
	Endpoint   string    `json:"endpoint"`
	SessionKey string    `json:"session_key"`
	IngestedAt time.Time `json:"ingested_at"`
	Data       Record    `json:"data"`
}

// Summary
// ------------------------------------------------------------
// invocation 결과. 영속화하지 않고 호출자에게만 돌려준다.
//
// 세션이 없거나 invocation 이 시작되지 못한 경우 Message 만 채워지며
// JSON 도 {"message": "..."} 형태가 된다.
type Summary struct {
	SessionKey       string
	Cycles           int
	TotalRecordsSent int
	Message          string
}

const (
	MessageNoActiveSession = "no active session"
	MessageLeaseHeld       = "invocation already in progress"
)

func (s Summary) MarshalJSON() ([]byte, error) {
	if s.SessionKey == "" {
		return json.Marshal(struct {
			Message string `json:"message"`
		}{s.Message})
	}
	return json.Marshal(struct {
		SessionKey       string `json:"session_key"`
		Cycles           int    `json:"cycles"`
		TotalRecordsSent int    `json:"total_records_sent"`
	}{s.SessionKey, s.Cycles, s.TotalRecordsSent})
}
