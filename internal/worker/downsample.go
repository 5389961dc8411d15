package worker

import "f1-poller/internal/model"

// secondPrefixLen 은 "YYYY-MM-DDTHH:MM:SS" 길이. 이 접두사가 초 단위 bucket 이다.
const secondPrefixLen = 19

// Downsample
// ------------------------------------------------------------
// 같은 entity(드라이버) 의 같은 초에 속한 레코드 중 마지막 1건만 남긴다.
// car_data 는 초당 수 회 샘플이 올라오므로 초당 1건으로 줄여도 추세는 유지된다.
//
//   - bucket key: (entityField 값, tsField 값의 초 단위 접두사)
//   - 같은 bucket 에서는 입력 순서상 마지막 레코드가 이긴다
//   - entity 또는 timestamp 가 없는 레코드는 버린다
//   - 출력 순서: bucket 이 처음 등장한 순서 (소비자는 순서에 의존하면 안 된다)
//
// 이미 downsample 된 입력에 다시 적용해도 결과가 같다.
func Downsample(records []model.Record, entityField, tsField string) []model.Record {
	type bucket struct{ entity, second string }

	idx := make(map[bucket]int, len(records))
	out := make([]model.Record, 0, len(records))

	for _, r := range records {
		entity, ok := r.String(entityField)
		if !ok || entity == "" {
			continue
		}
		ts, ok := r.Timestamp(tsField)
		if !ok {
			continue
		}
		if len(ts) > secondPrefixLen {
			ts = ts[:secondPrefixLen]
		}

		k := bucket{entity, ts}
		if i, seen := idx[k]; seen {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}
