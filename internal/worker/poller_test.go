package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"f1-poller/internal/catalog"
	"f1-poller/internal/metrics"
	"f1-poller/internal/model"
	"f1-poller/internal/openf1"
	"f1-poller/internal/session"
	"f1-poller/internal/state"
	"f1-poller/internal/stream"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeDetector struct {
	sess session.Session
	ok   bool
}

func (f fakeDetector) Detect(context.Context) (session.Session, bool) { return f.sess, f.ok }

type fetchCall struct {
	endpoint string
	cursor   string
}

// fakeFetcher 는 endpoint 별로 준비된 결과를 돌려주고 호출을 기록한다.
// log 는 sink 와 공유해 호출 순서를 검증한다.
type fakeFetcher struct {
	results map[string][]openf1.Result // endpoint → 호출 순서별 결과 (소진되면 Empty)
	drivers []model.Record
	calls   []fetchCall
	log     *[]string
}

func (f *fakeFetcher) Fetch(_ context.Context, ep model.EndpointConfig, _ string, cursor string) openf1.Result {
	f.calls = append(f.calls, fetchCall{ep.Name, cursor})
	*f.log = append(*f.log, "fetch:"+ep.Name)
	queue := f.results[ep.Name]
	if len(queue) == 0 {
		return openf1.Result{Status: openf1.StatusEmpty}
	}
	f.results[ep.Name] = queue[1:]
	return queue[0]
}

func (f *fakeFetcher) Drivers(context.Context, string) ([]model.Record, error) {
	*f.log = append(*f.log, "drivers")
	return f.drivers, nil
}

func (f *fakeFetcher) calledEndpoints() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.endpoint
	}
	return out
}

type recordingSink struct {
	batches [][]stream.Entry
	log     *[]string
}

func (s *recordingSink) PutBatch(_ context.Context, entries []stream.Entry) (stream.Result, error) {
	s.batches = append(s.batches, entries)
	for _, e := range entries {
		var env struct {
			Endpoint string `json:"endpoint"`
		}
		_ = json.Unmarshal(e.Data, &env)
		*s.log = append(*s.log, "publish:"+env.Endpoint)
	}
	return stream.Result{}, nil
}

// countingStore 는 MemoryStore 에 호출 횟수와 저장 이력을 더한다.
type countingStore struct {
	*state.MemoryStore
	loads   int
	saves   []model.PollState
	loadErr error
	saveErr error
}

func (c *countingStore) Load(ctx context.Context) (*model.PollState, error) {
	c.loads++
	if c.loadErr != nil {
		return nil, c.loadErr
	}
	return c.MemoryStore.Load(ctx)
}

func (c *countingStore) Save(ctx context.Context, st *model.PollState) error {
	cp := *st
	cp.Cursors = make(map[string]string, len(st.Cursors))
	for k, v := range st.Cursors {
		cp.Cursors[k] = v
	}
	c.saves = append(c.saves, cp)
	if c.saveErr != nil {
		return c.saveErr
	}
	return c.MemoryStore.Save(ctx, st)
}

type lockingStore struct {
	*countingStore
	held bool
}

func (l *lockingStore) Acquire(context.Context, string, time.Duration) (bool, error) {
	return !l.held, nil
}

func (l *lockingStore) Release(context.Context, string) error { return nil }

// =============================================================================
// HELPERS
// =============================================================================

type harness struct {
	poller  *Poller
	fetcher *fakeFetcher
	sink    *recordingSink
	store   *countingStore
	metrics *metrics.Metrics
	log     []string
	sleeps  []time.Duration
}

func newHarness(t *testing.T, det fakeDetector, cycles int) *harness {
	t.Helper()
	h := &harness{
		store:   &countingStore{MemoryStore: state.NewMemoryStore()},
		metrics: metrics.New(),
	}
	h.fetcher = &fakeFetcher{results: map[string][]openf1.Result{}, log: &h.log}
	h.sink = &recordingSink{log: &h.log}
	h.poller = h.build(det, h.store, cycles, 0)
	return h
}

func (h *harness) build(det fakeDetector, store state.Store, cycles int, lease time.Duration) *Poller {
	p := NewPoller(
		Options{Cycles: cycles, PollInterval: 5 * time.Second, LeaseTTL: lease},
		catalog.Default(),
		det,
		h.fetcher,
		store,
		NewPublisher(h.sink, nil, h.metrics),
		h.metrics,
	)
	p.now = func() time.Time { return time.Date(2025, 12, 7, 13, 51, 0, 0, time.UTC) }
	p.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return p
}

func (h *harness) seed(t *testing.T, st *model.PollState) {
	t.Helper()
	require.NoError(t, h.store.MemoryStore.Save(context.Background(), st))
}

func (h *harness) saved(t *testing.T) *model.PollState {
	t.Helper()
	st, err := h.store.MemoryStore.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

func active(key string) fakeDetector {
	return fakeDetector{
		sess: session.Session{Key: key, Metadata: model.Record{"session_key": json.Number(key), "session_name": "Race"}},
		ok:   true,
	}
}

func okResult(records ...model.Record) openf1.Result {
	return openf1.Result{Status: openf1.StatusOK, Records: records}
}

func rec(driver int, date string) model.Record {
	return model.Record{"driver_number": json.Number(fmt.Sprint(driver)), "date": date}
}

// =============================================================================
// TESTS
// =============================================================================

func TestRunNoActiveSession(t *testing.T) {
	h := newHarness(t, fakeDetector{}, 11)
	h.seed(t, &model.PollState{SessionKey: "9159", InvocationCount: 30, Cursors: map[string]string{}})

	sum := h.poller.Run(context.Background())

	raw, err := json.Marshal(sum)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"no active session"}`, string(raw))
	assert.Zero(t, h.store.loads)
	assert.Empty(t, h.store.saves)
	assert.Empty(t, h.fetcher.calls)
	assert.Empty(t, h.sink.batches)
	assert.Equal(t, int64(1), h.metrics.InvocationsNoSessionTotal)
}

func TestRunSessionChangeResetsStateAndSendsOneTimeRecords(t *testing.T) {
	h := newHarness(t, active("9160"), 1)
	h.seed(t, &model.PollState{
		SessionKey:      "9159",
		InvocationCount: 47,
		Cursors:         map[string]string{"position": "2025-12-01T14:00:00+00:00"},
	})
	h.fetcher.drivers = []model.Record{
		{"driver_number": json.Number("1"), "name_acronym": "VER"},
		{"driver_number": json.Number("44"), "name_acronym": "HAM"},
	}

	sum := h.poller.Run(context.Background())

	// one-time 레코드가 첫 fetch 보다 먼저 나간다.
	require.GreaterOrEqual(t, len(h.log), 4)
	assert.Equal(t, []string{"drivers", "publish:sessions", "publish:drivers", "publish:drivers"}, h.log[:4])
	assert.Equal(t, "fetch:position", h.log[4])

	// 첫 cycle 은 새 state: cycle 0 → 모든 endpoint, cursor 없음.
	assert.Equal(t,
		[]string{"position", "car_data", "laps", "race_control", "weather", "pit"},
		h.fetcher.calledEndpoints())
	for _, c := range h.fetcher.calls {
		assert.Empty(t, c.cursor, c.endpoint)
	}

	require.Len(t, h.store.saves, 1)
	assert.Equal(t, "9160", h.store.saves[0].SessionKey)
	assert.Equal(t, uint64(1), h.store.saves[0].InvocationCount)
	assert.Empty(t, h.store.saves[0].Cursors)

	require.Len(t, h.sink.batches, 1)
	assert.Equal(t, "global", h.sink.batches[0][0].PartitionKey)
	assert.Equal(t, "1", h.sink.batches[0][1].PartitionKey)
	assert.Equal(t, "44", h.sink.batches[0][2].PartitionKey)

	assert.Equal(t, "9160", sum.SessionKey)
	assert.Equal(t, 1, sum.Cycles)
	assert.Zero(t, sum.TotalRecordsSent, "one-time records are not counted")
	assert.Equal(t, int64(1), h.metrics.SessionsStartedTotal)
}

func TestRunFirstEverSessionIsNew(t *testing.T) {
	h := newHarness(t, active("9159"), 1)

	h.poller.Run(context.Background())

	assert.Equal(t, "drivers", h.log[0])
	assert.Equal(t, int64(1), h.metrics.SessionsStartedTotal)
	assert.Equal(t, "9159", h.saved(t).SessionKey)
}

func TestRunLoadFailureStartsFresh(t *testing.T) {
	h := newHarness(t, active("9159"), 1)
	h.store.loadErr = errors.New("ssm throttled")

	h.poller.Run(context.Background())

	assert.Equal(t, int64(1), h.metrics.StateLoadErrorsTotal)
	assert.Equal(t, int64(1), h.metrics.SessionsStartedTotal)
	assert.Equal(t, "drivers", h.log[0])
}

func TestRunSameSessionResumesCursorsAndRotation(t *testing.T) {
	h := newHarness(t, active("9159"), 3)
	h.seed(t, &model.PollState{
		SessionKey:      "9159",
		InvocationCount: 4,
		Cursors: map[string]string{
			"position": "2025-12-07T13:50:00+00:00",
			"weather":  "2025-12-07T13:45:00+00:00",
		},
	})
	h.fetcher.results["position"] = []openf1.Result{
		okResult(rec(1, "2025-12-07T13:50:04+00:00"), rec(44, "2025-12-07T13:50:05+00:00")),
		okResult(rec(1, "2025-12-07T13:50:09+00:00")),
	}

	sum := h.poller.Run(context.Background())

	// 같은 세션: one-time 레코드 없음.
	assert.NotContains(t, h.log, "drivers")
	assert.Zero(t, h.metrics.SessionsStartedTotal)

	// cycle 4, 5: high 만 / cycle 6: 전부.
	assert.Equal(t, []string{
		"position", "car_data",
		"position", "car_data",
		"position", "car_data", "laps", "race_control", "weather", "pit",
	}, h.fetcher.calledEndpoints())

	// 저장된 cursor 로 이어서 조회하고, 받은 레코드 기준으로 전진한다.
	assert.Equal(t, "2025-12-07T13:50:00+00:00", h.fetcher.calls[0].cursor)
	assert.Equal(t, "2025-12-07T13:50:05+00:00", h.fetcher.calls[2].cursor)
	assert.Equal(t, "2025-12-07T13:50:09+00:00", h.fetcher.calls[4].cursor)
	assert.Equal(t, "2025-12-07T13:45:00+00:00", h.fetcher.calls[8].cursor)

	st := h.saved(t)
	assert.Equal(t, uint64(7), st.InvocationCount)
	assert.Equal(t, "2025-12-07T13:50:09+00:00", st.Cursor("position"))

	assert.Equal(t, 3, sum.Cycles)
	assert.Equal(t, 3, sum.TotalRecordsSent)

	// state 는 매 cycle 저장, 대기는 cycle 사이에만.
	require.Len(t, h.store.saves, 3)
	assert.Equal(t, uint64(5), h.store.saves[0].InvocationCount)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, h.sleeps)
}

func TestRunRateLimitStopsRemainingEndpointsInCycle(t *testing.T) {
	h := newHarness(t, active("9159"), 2)
	h.seed(t, model.NewPollState("9159"))
	h.fetcher.results["car_data"] = []openf1.Result{{Status: openf1.StatusRateLimited}}
	h.fetcher.results["laps"] = []openf1.Result{okResult(rec(1, "2025-12-07T13:40:00+00:00"))}

	h.poller.Run(context.Background())

	// cycle 0: position, car_data(429) 후 중단. cycle 1: high tier 정상 진행.
	assert.Equal(t, []string{"position", "car_data", "position", "car_data"}, h.fetcher.calledEndpoints())
	assert.Equal(t, int64(1), h.metrics.FetchRateLimitedTotal)
	assert.Equal(t, uint64(2), h.saved(t).InvocationCount)
	assert.Empty(t, h.saved(t).Cursor("laps"))
}

func TestRunFailedEndpointKeepsCursor(t *testing.T) {
	h := newHarness(t, active("9159"), 1)
	h.seed(t, &model.PollState{
		SessionKey: "9159",
		Cursors: map[string]string{
			"position": "2025-12-07T13:50:00+00:00",
			"car_data": "2025-12-07T13:50:00+00:00",
		},
	})
	h.fetcher.results["position"] = []openf1.Result{{Status: openf1.StatusFailed, Err: errors.New("502")}}
	h.fetcher.results["car_data"] = []openf1.Result{okResult(rec(1, "2025-12-07T13:50:03.200000+00:00"))}

	sum := h.poller.Run(context.Background())

	st := h.saved(t)
	assert.Equal(t, "2025-12-07T13:50:00+00:00", st.Cursor("position"))
	assert.Equal(t, "2025-12-07T13:50:03.200000+00:00", st.Cursor("car_data"))
	assert.Equal(t, 1, sum.TotalRecordsSent)
	assert.Equal(t, int64(1), h.metrics.FetchFailedTotal)
	// 실패 후에도 나머지 endpoint 는 호출된다.
	assert.Len(t, h.fetcher.calls, 6)
}

func TestRunDownsamplesCarData(t *testing.T) {
	h := newHarness(t, active("9159"), 1)
	h.seed(t, &model.PollState{SessionKey: "9159", InvocationCount: 1, Cursors: map[string]string{}})
	h.fetcher.results["car_data"] = []openf1.Result{okResult(fortyCarSamples()...)}

	sum := h.poller.Run(context.Background())

	assert.Equal(t, 12, sum.TotalRecordsSent)
	assert.Equal(t, int64(40), h.metrics.RecordsFetchedTotal)
	assert.Equal(t, int64(28), h.metrics.RecordsDownsampledTotal)
	assert.Equal(t, "2025-12-07T13:50:12.810000+00:00", h.saved(t).Cursor("car_data"))
}

func TestRunBatchesLargeCycles(t *testing.T) {
	h := newHarness(t, active("9159"), 1)
	h.seed(t, &model.PollState{SessionKey: "9159", InvocationCount: 1, Cursors: map[string]string{}})

	var many []model.Record
	for i := 0; i < 1100; i++ {
		many = append(many, rec(i%20, fmt.Sprintf("2025-12-07T13:50:%02d.%06d+00:00", i/100, i)))
	}
	h.fetcher.results["position"] = []openf1.Result{okResult(many...)}

	sum := h.poller.Run(context.Background())

	require.Len(t, h.sink.batches, 3)
	assert.Len(t, h.sink.batches[0], 500)
	assert.Len(t, h.sink.batches[2], 100)
	assert.Equal(t, 1100, sum.TotalRecordsSent)
}

func TestRunSaveFailureDoesNotStopCycles(t *testing.T) {
	h := newHarness(t, active("9159"), 3)
	h.store.saveErr = errors.New("ssm access denied")

	sum := h.poller.Run(context.Background())

	assert.Equal(t, 3, sum.Cycles)
	assert.Len(t, h.store.saves, 3)
	assert.Equal(t, int64(3), h.metrics.StateSaveErrorsTotal)
}

func TestRunStopsWhenCancelled(t *testing.T) {
	h := newHarness(t, active("9159"), 11)
	h.poller.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	sum := h.poller.Run(context.Background())

	assert.Equal(t, 1, sum.Cycles)
	assert.Len(t, h.store.saves, 1)
}

func TestRunLeaseHeldSkipsInvocation(t *testing.T) {
	h := newHarness(t, active("9159"), 1)
	locked := &lockingStore{countingStore: h.store, held: true}
	p := h.build(active("9159"), locked, 1, time.Minute)

	sum := p.Run(context.Background())

	assert.Equal(t, model.MessageLeaseHeld, sum.Message)
	assert.Zero(t, h.store.loads)
	assert.Empty(t, h.fetcher.calls)
	assert.Equal(t, int64(1), h.metrics.InvocationsLeaseConflictTotal)
}

func TestRunLeaseFreeProceeds(t *testing.T) {
	h := newHarness(t, active("9159"), 1)
	locked := &lockingStore{countingStore: h.store}
	p := h.build(active("9159"), locked, 1, time.Minute)

	sum := p.Run(context.Background())

	assert.Equal(t, "9159", sum.SessionKey)
	assert.Equal(t, 1, h.store.loads)
}

func TestSummaryJSON(t *testing.T) {
	raw, err := json.Marshal(model.Summary{SessionKey: "9159", Cycles: 11, TotalRecordsSent: 1234})
	require.NoError(t, err)
	assert.JSONEq(t, `{"session_key":"9159","cycles":11,"total_records_sent":1234}`, string(raw))
}
