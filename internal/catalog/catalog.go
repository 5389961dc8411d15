// Package catalog 는 폴링 대상 endpoint 목록과 cycle 별 스케줄 규칙을 가진다.
package catalog

import "f1-poller/internal/model"

// One-time endpoint 이름. 세션이 바뀔 때 한 번만 보내며 cursor 관리 대상이 아니다.
const (
	SessionsEndpoint = "sessions"
	DriversEndpoint  = "drivers"
)

// 정의 순서가 곧 cycle 내 호출 순서다.
// rate limit 에 걸리면 뒤쪽 endpoint 가 밀리므로 high tier 를 앞에 둔다.
var defaultEndpoints = []model.EndpointConfig{
	{Name: "position", Path: "/position", Tier: model.TierHigh, TimestampField: "date", PartitionKeyField: "driver_number"},
	{Name: "car_data", Path: "/car_data", Tier: model.TierHigh, TimestampField: "date", PartitionKeyField: "driver_number", Downsample: true},
	{Name: "laps", Path: "/laps", Tier: model.TierMedium, TimestampField: "date_start", PartitionKeyField: "driver_number"},
	{Name: "race_control", Path: "/race_control", Tier: model.TierLow, TimestampField: "date"},
	{Name: "weather", Path: "/weather", Tier: model.TierLow, TimestampField: "date"},
	{Name: "pit", Path: "/pit", Tier: model.TierLow, TimestampField: "date", PartitionKeyField: "driver_number"},
}

var oneShot = map[string]model.EndpointConfig{
	SessionsEndpoint: {Name: SessionsEndpoint, Path: "/sessions", TimestampField: "date_start"},
	DriversEndpoint:  {Name: DriversEndpoint, Path: "/drivers", PartitionKeyField: "driver_number"},
}

// Default 는 기본 catalog 의 복사본을 돌려준다.
func Default() []model.EndpointConfig {
	out := make([]model.EndpointConfig, len(defaultEndpoints))
	copy(out, defaultEndpoints)
	return out
}

// Lookup 은 scheduled 또는 one-time endpoint 설정을 이름으로 찾는다.
func Lookup(name string) (model.EndpointConfig, bool) {
	for _, ep := range defaultEndpoints {
		if ep.Name == name {
			return ep, true
		}
	}
	ep, ok := oneShot[name]
	return ep, ok
}

// Select
//
// cycle 번호에 따라 이번 cycle 에 폴링할 endpoint 를 고른다 (순서 유지).
//   - high   : 항상
//   - medium : cycle % 3 == 0
//   - low    : cycle % 6 == 0
//
// cycle 은 PollState.InvocationCount 로, invocation 을 넘어 증가하므로
// 회전 위상이 invocation 경계에서 끊기지 않는다.
func Select(cycle uint64, endpoints []model.EndpointConfig) []model.EndpointConfig {
	out := make([]model.EndpointConfig, 0, len(endpoints))
	for _, ep := range endpoints {
		if Due(ep.Tier, cycle) {
			out = append(out, ep)
		}
	}
	return out
}

// Due 는 tier 가 cycle 에 포함되는지 알려준다.
func Due(tier model.Tier, cycle uint64) bool {
	switch tier {
	case model.TierHigh:
		return true
	case model.TierMedium:
		return cycle%3 == 0
	case model.TierLow:
		return cycle%6 == 0
	default:
		return false
	}
}
