// internal/model/endpoint.go
package model

// Tier
// ------------------------------------------------------------
// endpoint 의 폴링 빈도 등급.
// provider 의 초당 요청 quota 안에서 전체 요청 수를 묶어두기 위해
// 빈도가 낮은 신호(weather, flag 등)는 몇 cycle 에 한 번만 호출한다.
type Tier string

const (
	TierHigh   Tier = "high"   // 매 cycle
	TierMedium Tier = "medium" // 3 cycle 마다
	TierLow    Tier = "low"    // 6 cycle 마다
)

// EndpointConfig
// ------------------------------------------------------------
// 폴링 가능한 upstream 리소스 하나의 정적 설명. Name 이 식별자다.
//
// PartitionKeyField 가 비어 있으면 partition key 가 없는 endpoint 로,
// 모든 레코드가 "global" 파티션으로 간다.
type EndpointConfig struct {
	Name              string
	Path              string
	Tier              Tier
	TimestampField    string
	PartitionKeyField string
	Downsample        bool
}
