package server

import (
	"context"
	"io"
	"net/http"
	"sync"

	"f1-poller/internal/metrics"
	"f1-poller/internal/model"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Invoker 는 invocation 1회를 실행한다 (worker.Poller).
type Invoker interface {
	Run(ctx context.Context) model.Summary
}

// Handler 는 로컬 실행 모드의 HTTP 표면이다.
// Lambda 에서는 쓰지 않는다.
type Handler struct {
	metrics *metrics.Metrics
	poller  Invoker

	// 프로세스 안에서 invocation 이 겹치지 않게 한다.
	// 프로세스 간 배타는 state store 의 lease 가 맡는다.
	running sync.Mutex
}

func NewHandler(m *metrics.Metrics, p Invoker) *Handler {
	return &Handler{
		metrics: m,
		poller:  p,
	}
}

// Trigger 는 실행 중인 invocation 이 없을 때만 Run 을 호출한다.
// 이미 실행 중이면 ok=false.
func (h *Handler) Trigger(ctx context.Context) (sum model.Summary, ok bool) {
	if !h.running.TryLock() {
		return model.Summary{Message: model.MessageLeaseHeld}, false
	}
	defer h.running.Unlock()
	return h.poller.Run(ctx), true
}

// HandleInvoke
//
// POST /invoke : 스케줄 트리거를 수동으로 흉내낸다.
//   - 200 : invocation 요약 JSON
//   - 409 : 다른 invocation 이 실행 중
//
// 요청이 끊기면 ctx 가 취소되어 남은 cycle 을 건너뛴다.
func (h *Handler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	log.Info().Str("caller", clientIP(r)).Msg("manual invocation requested")

	sum, ok := h.Trigger(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	writeJSON(w, status, sum)
}

// HandleMetrics 는 카운터 값을 text 로 출력한다.
func (h *Handler) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, h.metrics.String())
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
