package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 poller 상태를 나타내는 카운터 모음이다.
// Lambda 에서는 invocation 종료 시 로그로, 로컬 모드에서는 /metrics 로 노출한다.
// Lambda 실행 환경이 warm 으로 재사용되는 동안 값이 누적된다.
type Metrics struct {
	// ======================
	// Invocation 레벨 지표
	// ======================

	// InvocationsTotal
	// - 트리거된 모든 invocation 수.
	InvocationsTotal int64

	// InvocationsNoSessionTotal
	// - 활성 세션이 없어 cycle 없이 종료된 invocation 수.
	// - 세션이 없는 주중에는 InvocationsTotal 과 같이 증가하는 것이 정상.
	InvocationsNoSessionTotal int64

	// InvocationsLeaseConflictTotal
	// - lease 를 다른 invocation 이 잡고 있어 건너뛴 횟수.
	// - 0 이 아니면 트리거 주기가 invocation 실행 시간보다 짧다는 신호.
	InvocationsLeaseConflictTotal int64

	// SessionsStartedTotal
	// - 새 세션 감지(상태 리셋 + sessions/drivers 1회 전송) 횟수.
	SessionsStartedTotal int64

	// CyclesTotal
	// - 실행된 폴링 cycle 수.
	CyclesTotal int64

	// ======================
	// Fetch 지표 (OpenF1)
	// ======================

	// FetchOKTotal / FetchEmptyTotal
	// - 레코드가 있는 응답 / 빈 배열 응답 수.
	FetchOKTotal    int64
	FetchEmptyTotal int64

	// FetchFailedTotal
	// - 네트워크 오류, 5xx, 배열이 아닌 응답 등으로 skip 된 endpoint 호출 수.
	// - cursor 는 그대로이므로 다음 cycle 에 같은 구간을 다시 요청한다.
	FetchFailedTotal int64

	// FetchRateLimitedTotal
	// - 429 를 받아 해당 cycle 의 나머지 endpoint 를 포기한 횟수.
	FetchRateLimitedTotal int64

	// RecordsFetchedTotal
	// - upstream 에서 받은 레코드 수 (downsample 전).
	RecordsFetchedTotal int64

	// RecordsDownsampledTotal
	// - downsample 로 버린 레코드 수.
	RecordsDownsampledTotal int64

	// ======================
	// Stream 지표
	// ======================

	// RecordsPublishedTotal
	// - sink 가 수락한 레코드 수.
	RecordsPublishedTotal int64

	// RecordsRejectedTotal
	// - 부분 실패 또는 배치 호출 실패로 보내지 못한 레코드 수.
	// - 재시도하지 않는다 (허용된 손실). archive 가 켜져 있으면 S3 에 남는다.
	RecordsRejectedTotal int64

	// ArchiveObjectsTotal / ArchiveErrorsTotal
	// - dead-letter archive 로 업로드된 오브젝트 수 / 업로드 최종 실패 수.
	ArchiveObjectsTotal int64
	ArchiveErrorsTotal  int64

	// ======================
	// State 지표
	// ======================

	// StateLoadErrorsTotal
	// - state 읽기 실패 수. 실패 시 새 세션으로 초기화하므로 중복 전송이 생길 수 있다.
	StateLoadErrorsTotal int64

	// StateSaveErrorsTotal
	// - state 저장 실패 수. 다음 invocation 이 이미 보낸 구간을 다시 보낼 수 있다.
	StateSaveErrorsTotal int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	fmt.Fprintf(&sb, "invocations_total=%d\n", atomic.LoadInt64(&m.InvocationsTotal))
	fmt.Fprintf(&sb, "invocations_no_session_total=%d\n", atomic.LoadInt64(&m.InvocationsNoSessionTotal))
	fmt.Fprintf(&sb, "invocations_lease_conflict_total=%d\n", atomic.LoadInt64(&m.InvocationsLeaseConflictTotal))
	fmt.Fprintf(&sb, "sessions_started_total=%d\n", atomic.LoadInt64(&m.SessionsStartedTotal))
	fmt.Fprintf(&sb, "cycles_total=%d\n", atomic.LoadInt64(&m.CyclesTotal))

	fmt.Fprintf(&sb, "fetch_ok_total=%d\n", atomic.LoadInt64(&m.FetchOKTotal))
	fmt.Fprintf(&sb, "fetch_empty_total=%d\n", atomic.LoadInt64(&m.FetchEmptyTotal))
	fmt.Fprintf(&sb, "fetch_failed_total=%d\n", atomic.LoadInt64(&m.FetchFailedTotal))
	fmt.Fprintf(&sb, "fetch_rate_limited_total=%d\n", atomic.LoadInt64(&m.FetchRateLimitedTotal))
	fmt.Fprintf(&sb, "records_fetched_total=%d\n", atomic.LoadInt64(&m.RecordsFetchedTotal))
	fmt.Fprintf(&sb, "records_downsampled_total=%d\n", atomic.LoadInt64(&m.RecordsDownsampledTotal))

	fmt.Fprintf(&sb, "records_published_total=%d\n", atomic.LoadInt64(&m.RecordsPublishedTotal))
	fmt.Fprintf(&sb, "records_rejected_total=%d\n", atomic.LoadInt64(&m.RecordsRejectedTotal))
	fmt.Fprintf(&sb, "archive_objects_total=%d\n", atomic.LoadInt64(&m.ArchiveObjectsTotal))
	fmt.Fprintf(&sb, "archive_errors_total=%d\n", atomic.LoadInt64(&m.ArchiveErrorsTotal))

	fmt.Fprintf(&sb, "state_load_errors_total=%d\n", atomic.LoadInt64(&m.StateLoadErrorsTotal))
	fmt.Fprintf(&sb, "state_save_errors_total=%d\n", atomic.LoadInt64(&m.StateSaveErrorsTotal))

	return sb.String()
}
