// internal/worker/file_util.go
package worker

import (
	"fmt"
	"sync/atomic"
	"time"
)

// file_util.go
// ------------------------------------------------------------
// dead-letter archive 오브젝트 이름 규칙.
//
//	<unix>_<instance>_<counter>.jsonl.gz
//
// 정렬하면 곧 시간 순 정렬이므로, 손실 구간을 조사할 때
// prefix 목록만으로 순서를 알 수 있다.
var globalCounter uint64

// NextCounter 는 1,000,000 에서 다시 0 으로 돌아가는 순차 번호.
// timestamp·instance 조합과 함께 쓰므로 wrap-around 되어도 충돌하지 않는다.
func NextCounter() uint64 {
	return atomic.AddUint64(&globalCounter, 1) % 1_000_000
}

// NewFilename 은 <unix>_<instance>_<counter>.jsonl.gz 를 만든다.
func NewFilename(instanceID string, now time.Time) string {
	return fmt.Sprintf("%d_%s_%06d.jsonl.gz", now.Unix(), instanceID, NextCounter())
}

// BuildS3Key 는 표준 파티션 구조의 S3 key 를 만든다.
//
//	<prefix>/dt=<YYYY-MM-DD>/hr=<HH>/<filename>
//
// 세션이 전 세계에서 열리므로 파티션은 UTC 기준이다.
func BuildS3Key(prefix string, now time.Time, filename string) string {
	utc := now.UTC()
	return fmt.Sprintf("%s/dt=%s/hr=%s/%s", prefix, utc.Format("2006-01-02"), utc.Format("15"), filename)
}
