// internal/worker/poller.go
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"f1-poller/internal/catalog"
	"f1-poller/internal/metrics"
	"f1-poller/internal/model"
	"f1-poller/internal/openf1"
	"f1-poller/internal/session"
	"f1-poller/internal/state"
	"f1-poller/internal/stream"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Detector 는 활성 세션을 찾는다 (session.Detector).
type Detector interface {
	Detect(ctx context.Context) (session.Session, bool)
}

// Fetcher 는 upstream 조회 (openf1.Client).
type Fetcher interface {
	Fetch(ctx context.Context, ep model.EndpointConfig, sessionKey, cursor string) openf1.Result
	Drivers(ctx context.Context, sessionKey string) ([]model.Record, error)
}

// Options 는 Poller 타이밍/식별 설정.
type Options struct {
	Cycles       int           // invocation 당 cycle 수
	PollInterval time.Duration // cycle 간 대기 (마지막 cycle 뒤에는 없음)
	CallDelay    time.Duration // endpoint 호출 간 최소 간격
	LeaseTTL     time.Duration // store 가 Locker 일 때만 사용, 0 이면 비활성
}

// Poller
//
// invocation 진입점. 한 invocation 의 흐름:
//
//  1. 세션 감지. 없으면 즉시 종료 (state 를 읽지도 쓰지도 않는다)
//  2. (선택) lease 획득
//  3. state 로드. 없거나 실패하거나 세션이 바뀌었으면 새 state
//  4. 세션이 바뀌었으면 sessions/drivers 레코드를 1회 전송
//  5. Cycles 번 반복: Select → Fetch → Downsample → Envelope/Chunk → Publish → Save
//
// 모든 호출은 하나의 goroutine 에서 순서대로 실행된다. PollState 는
// invocation 동안 Run 이 소유하며 cycle 마다 명시적으로 넘겨진다.
// 어떤 실패도 invocation 을 중단시키지 않는다.
type Poller struct {
	opts      Options
	endpoints []model.EndpointConfig

	detector  Detector
	fetcher   Fetcher
	store     state.Store
	publisher *Publisher
	metrics   *metrics.Metrics

	limiter *rate.Limiter
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPoller 는 의존성을 주입받아 Poller 를 만든다.
func NewPoller(
	opts Options,
	endpoints []model.EndpointConfig,
	detector Detector,
	fetcher Fetcher,
	store state.Store,
	publisher *Publisher,
	m *metrics.Metrics,
) *Poller {
	if opts.Cycles <= 0 {
		opts.Cycles = 1
	}

	// 토큰 1개짜리 bucket: 호출 간격이 CallDelay 이상으로 벌어진다.
	// cycle 간 대기 동안 토큰이 차므로 cycle 첫 호출은 기다리지 않는다.
	limit := rate.Inf
	if opts.CallDelay > 0 {
		limit = rate.Every(opts.CallDelay)
	}

	return &Poller{
		opts:      opts,
		endpoints: endpoints,
		detector:  detector,
		fetcher:   fetcher,
		store:     store,
		publisher: publisher,
		metrics:   m,
		limiter:   rate.NewLimiter(limit, 1),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Run 은 invocation 1회를 실행하고 요약을 돌려준다.
func (p *Poller) Run(ctx context.Context) model.Summary {
	atomic.AddInt64(&p.metrics.InvocationsTotal, 1)

	invocationID := uuid.NewString()
	lg := log.With().Str("invocation", invocationID).Logger()
	ctx = lg.WithContext(ctx)

	// --- 1) 세션 감지 ---
	sess, ok := p.detector.Detect(ctx)
	if !ok {
		atomic.AddInt64(&p.metrics.InvocationsNoSessionTotal, 1)
		lg.Info().Msg("no active session, exiting")
		return model.Summary{Message: model.MessageNoActiveSession}
	}

	// --- 2) lease (지원하는 store 만) ---
	release, ok := p.acquireLease(ctx, invocationID)
	if !ok {
		atomic.AddInt64(&p.metrics.InvocationsLeaseConflictTotal, 1)
		lg.Warn().Str("session", sess.Key).Msg("another invocation holds the lease, exiting")
		return model.Summary{Message: model.MessageLeaseHeld}
	}
	defer release()

	// --- 3) state 로드 / 세션 변경 판단 ---
	st, changed := p.loadState(ctx, sess.Key)

	// --- 4) 새 세션: one-time 레코드 ---
	if changed {
		atomic.AddInt64(&p.metrics.SessionsStartedTotal, 1)
		p.publishSessionRecords(ctx, sess)
	}

	// --- 5) 폴링 cycle ---
	total := 0
	cycles := 0
	for i := 0; i < p.opts.Cycles; i++ {
		total += p.runCycle(ctx, st)
		cycles++
		p.saveState(ctx, st)

		if i == p.opts.Cycles-1 {
			break
		}
		if err := p.sleep(ctx, p.opts.PollInterval); err != nil {
			lg.Warn().Err(err).Int("cycles", cycles).Msg("invocation cancelled, stopping cycle loop")
			break
		}
	}

	lg.Info().
		Str("session", sess.Key).
		Int("cycles", cycles).
		Int("records_sent", total).
		Msg("invocation complete")

	return model.Summary{
		SessionKey:       sess.Key,
		Cycles:           cycles,
		TotalRecordsSent: total,
	}
}

// runCycle
// ------------------------------------------------------------
// cycle 1회. st 를 제자리에서 갱신하고 전송 성공 건수를 돌려준다.
//   - RateLimited: 이번 cycle 의 나머지 endpoint 호출을 중단 (다음 cycle 은 정상 진행)
//   - Failed: 해당 endpoint 만 skip, cursor 는 그대로 두어 다음 cycle 에 같은 구간 재요청
//   - cursor 는 downsample 후 레코드 기준으로 전진
func (p *Poller) runCycle(ctx context.Context, st *model.PollState) int {
	lg := zerolog.Ctx(ctx)
	cycle := st.InvocationCount
	due := catalog.Select(cycle, p.endpoints)

	lg.Info().
		Uint64("cycle", cycle).
		Strs("endpoints", endpointNames(due)).
		Str("session", st.SessionKey).
		Msg("polling cycle")

	var entries []stream.Entry

	for _, ep := range due {
		if err := p.limiter.Wait(ctx); err != nil {
			lg.Warn().Err(err).Str("endpoint", ep.Name).Msg("pacing wait aborted, skipping remaining endpoints")
			break
		}

		res := p.fetcher.Fetch(ctx, ep, st.SessionKey, st.Cursor(ep.Name))

		if res.Status == openf1.StatusRateLimited {
			atomic.AddInt64(&p.metrics.FetchRateLimitedTotal, 1)
			lg.Warn().Str("endpoint", ep.Name).Msg("rate limited, skipping remaining endpoints this cycle")
			break
		}
		if res.Status == openf1.StatusFailed {
			atomic.AddInt64(&p.metrics.FetchFailedTotal, 1)
			lg.Warn().Err(res.Err).Str("endpoint", ep.Name).Msg("fetch failed, cursor unchanged")
			continue
		}
		if res.Status == openf1.StatusEmpty || len(res.Records) == 0 {
			atomic.AddInt64(&p.metrics.FetchEmptyTotal, 1)
			continue
		}

		atomic.AddInt64(&p.metrics.FetchOKTotal, 1)
		atomic.AddInt64(&p.metrics.RecordsFetchedTotal, int64(len(res.Records)))

		records := res.Records
		if ep.Downsample {
			before := len(records)
			records = Downsample(records, ep.PartitionKeyField, ep.TimestampField)
			atomic.AddInt64(&p.metrics.RecordsDownsampledTotal, int64(before-len(records)))
			lg.Debug().Str("endpoint", ep.Name).Int("before", before).Int("after", len(records)).Msg("downsampled")
		}

		entries = append(entries, BuildEntries(ep, st.SessionKey, records, p.now())...)

		if next, ok := AdvanceCursor(records, ep.TimestampField); ok {
			st.Advance(ep.Name, next)
		}
	}

	sent := p.publisher.Publish(ctx, Chunk(entries, stream.MaxBatchSize))

	lg.Info().Uint64("cycle", cycle).Int("built", len(entries)).Int("sent", sent).Msg("cycle complete")

	st.InvocationCount = cycle + 1
	atomic.AddInt64(&p.metrics.CyclesTotal, 1)
	return sent
}

// publishSessionRecords 는 새 세션의 메타데이터와 드라이버 목록을 1회 전송한다.
// cursor 관리 대상이 아니며 실패해도 cycle 은 그대로 진행한다.
func (p *Poller) publishSessionRecords(ctx context.Context, sess session.Session) {
	lg := zerolog.Ctx(ctx)

	var entries []stream.Entry
	now := p.now()

	if sess.Metadata != nil {
		ep, _ := catalog.Lookup(catalog.SessionsEndpoint)
		entries = append(entries, BuildEntries(ep, sess.Key, []model.Record{sess.Metadata}, now)...)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		lg.Warn().Err(err).Msg("pacing wait aborted before drivers fetch")
	} else if drivers, err := p.fetcher.Drivers(ctx, sess.Key); err != nil {
		lg.Error().Err(err).Str("session", sess.Key).Msg("failed to fetch drivers")
	} else if len(drivers) > 0 {
		ep, _ := catalog.Lookup(catalog.DriversEndpoint)
		entries = append(entries, BuildEntries(ep, sess.Key, drivers, p.now())...)
	}

	if len(entries) == 0 {
		return
	}
	sent := p.publisher.Publish(ctx, Chunk(entries, stream.MaxBatchSize))
	lg.Info().Str("session", sess.Key).Int("sent", sent).Msg("sent one-time records (session + drivers)")
}

// loadState 는 저장된 state 를 읽고, 새 세션으로 리셋해야 하면 changed=true.
// 읽기 실패는 state 없음으로 취급한다.
func (p *Poller) loadState(ctx context.Context, sessionKey string) (*model.PollState, bool) {
	lg := zerolog.Ctx(ctx)

	st, err := p.store.Load(ctx)
	if err != nil {
		atomic.AddInt64(&p.metrics.StateLoadErrorsTotal, 1)
		lg.Error().Err(err).Msg("failed to load state, starting fresh")
		st = nil
	}

	if st == nil || st.SessionKey != sessionKey {
		prev := ""
		if st != nil {
			prev = st.SessionKey
		}
		lg.Info().Str("session", sessionKey).Str("previous", prev).Msg("new session detected")
		return model.NewPollState(sessionKey), true
	}
	return st, false
}

// saveState 실패는 로그만 남긴다. 다음 invocation 이 일부 구간을 다시 보낼 수 있다.
func (p *Poller) saveState(ctx context.Context, st *model.PollState) {
	if err := p.store.Save(ctx, st); err != nil {
		atomic.AddInt64(&p.metrics.StateSaveErrorsTotal, 1)
		zerolog.Ctx(ctx).Error().Err(err).Uint64("cycle", st.InvocationCount).Msg("failed to save state")
	}
}

// acquireLease 는 store 가 Locker 이고 LeaseTTL 이 설정된 경우에만 lease 를 잡는다.
// lease 저장소 오류는 invocation 을 막지 않는다 (state 도 같은 저장소라 어차피 degrade 된다).
func (p *Poller) acquireLease(ctx context.Context, owner string) (func(), bool) {
	noop := func() {}

	locker, ok := p.store.(state.Locker)
	if !ok || p.opts.LeaseTTL <= 0 {
		return noop, true
	}

	lg := zerolog.Ctx(ctx)
	acquired, err := locker.Acquire(ctx, owner, p.opts.LeaseTTL)
	if err != nil {
		lg.Warn().Err(err).Msg("lease acquire failed, proceeding without lease")
		return noop, true
	}
	if !acquired {
		return noop, false
	}

	return func() {
		// invocation ctx 가 취소됐어도 lease 는 풀어야 한다.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := locker.Release(rctx, owner); err != nil {
			lg.Warn().Err(err).Msg("lease release failed, it will expire")
		}
	}, true
}

func endpointNames(eps []model.EndpointConfig) []string {
	out := make([]string, len(eps))
	for i, ep := range eps {
		out[i] = ep.Name
	}
	return out
}

// sleepCtx 는 d 만큼 기다리거나 ctx 가 끝나면 ctx.Err() 를 돌려준다.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
