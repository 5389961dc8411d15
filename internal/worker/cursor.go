package worker

import "f1-poller/internal/model"

// AdvanceCursor
// ------------------------------------------------------------
// 배치에서 가장 큰 timestamp 문자열을 돌려준다. 없으면 ok=false.
//
// 비교는 ISO-8601 문자열의 사전순 비교다. upstream 포맷이 고정폭,
// zero-padded 라는 전제 위에서만 맞으며 일반적인 날짜 비교가 아니다.
func AdvanceCursor(records []model.Record, tsField string) (string, bool) {
	var max string
	for _, r := range records {
		if ts, ok := r.Timestamp(tsField); ok && ts > max {
			max = ts
		}
	}
	return max, max != ""
}
