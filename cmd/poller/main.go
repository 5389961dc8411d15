package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"f1-poller/internal/config"
	"f1-poller/internal/logger"
	"f1-poller/internal/server"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// lambdaResponse 는 스케줄 트리거에 돌려주는 응답.
// body 는 invocation 요약 JSON 문자열이다.
type lambdaResponse struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

func main() {

	// ====================================================================
	// Config & Logger
	// ====================================================================
	//
	// 설정은 전부 환경변수. 형식 오류는 기동 시점에 fail-fast.
	// ====================================================================
	cfg := config.Load()
	logger.Init(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire poller")
	}
	defer a.Close()

	// ====================================================================
	// 실행 모드
	// ====================================================================
	//
	// AWS_LAMBDA_RUNTIME_API 가 있으면 Lambda 런타임 안이다.
	//   - Lambda : EventBridge 1분 스케줄이 invocation 1회를 트리거
	//   - 로컬   : ticker 가 같은 주기로 트리거, /invoke 로 수동 실행
	// ====================================================================
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		runLambda(a)
		return
	}
	runLocal(ctx, cfg, a)
}

// runLambda 는 lambda.Start 로 제어를 넘긴다 (반환하지 않는다).
// 실행 환경이 재사용되는 동안 client 와 metrics 도 재사용된다.
func runLambda(a *app) {
	lambda.Start(func(ctx context.Context, ev events.CloudWatchEvent) (lambdaResponse, error) {
		log.Info().Str("source", ev.Source).Str("event_id", ev.ID).Msg("scheduled invocation")

		sum := a.poller.Run(ctx)
		body, err := json.Marshal(sum)
		if err != nil {
			return lambdaResponse{}, err
		}

		log.Info().Str("metrics", a.metrics.String()).Msg("invocation metrics")
		return lambdaResponse{StatusCode: http.StatusOK, Body: string(body)}, nil
	})
}

// runLocal
//
// Lambda 밖에서 같은 poller 를 주기적으로 돌린다.
//   - /invoke  : 수동 트리거 (실행 중이면 409)
//   - /metrics : 카운터
//   - /health  : 헬스체크
//
// SIGTERM/SIGINT 를 받으면 진행 중인 invocation 의 ctx 가 취소되어
// 남은 cycle 을 건너뛰고, HTTP 서버를 닫은 뒤 종료한다.
func runLocal(ctx context.Context, cfg config.Config, a *app) {
	h := server.NewHandler(a.metrics, a.poller)

	mux := http.NewServeMux()
	mux.HandleFunc("/invoke", h.HandleInvoke)
	mux.HandleFunc("/metrics", h.HandleMetrics)
	mux.HandleFunc("/health", h.HandleHealth)

	// invocation 하나가 ~1분이므로 WriteTimeout 을 그보다 길게 잡는다.
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  8 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("local mode listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server terminated")
		}
	}()

	if cfg.TriggerInterval > 0 {
		go trigger(ctx, h, cfg.TriggerInterval)
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	log.Info().Msg("shutdown complete")
}

// trigger 는 EventBridge 스케줄을 흉내낸다. 첫 실행은 즉시.
// 이전 invocation 이 아직 실행 중이면 이번 tick 은 건너뛴다.
func trigger(ctx context.Context, h *server.Handler, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		go func() {
			if sum, ok := h.Trigger(ctx); !ok {
				log.Warn().Msg("previous invocation still running, tick skipped")
			} else {
				log.Info().Interface("summary", sum).Msg("scheduled invocation done")
			}
		}()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
