package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"f1-poller/internal/catalog"
	"f1-poller/internal/config"
	"f1-poller/internal/metrics"
	"f1-poller/internal/openf1"
	"f1-poller/internal/session"
	"f1-poller/internal/state"
	"f1-poller/internal/stream"
	"f1-poller/internal/worker"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

// app 은 조립된 poller 와 종료 시 닫아야 할 자원.
type app struct {
	poller  *worker.Poller
	metrics *metrics.Metrics
	closers []func() error
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

// build
//
// 설정에 따라 구현체를 골라 Poller 를 조립한다.
//   - stream : kinesis (KINESIS_STREAM_NAME 이 비면 비활성) | kafka
//   - state  : ssm | redis (lease 지원) | memory
//   - archive: ARCHIVE_BUCKET 이 있을 때만
//
// AWS 설정은 AWS 백엔드를 하나라도 쓸 때만 로드한다.
func build(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{metrics: metrics.New()}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return aws.Config{}, fmt.Errorf("load aws config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	// --- stream sink ---
	var sink stream.Sink
	switch cfg.StreamBackend {
	case "kafka":
		k := stream.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.RequestTimeout)
		a.closers = append(a.closers, k.Close)
		sink = k
	default:
		if cfg.KinesisStreamName == "" {
			log.Warn().Msg("KINESIS_STREAM_NAME not set, records will not be published")
			break
		}
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		// 재시도하지 않는다. 실패분은 archive 로 기록된다.
		client := kinesis.NewFromConfig(c, func(o *kinesis.Options) {
			o.RetryMaxAttempts = 1
		})
		sink = stream.NewKinesisSink(client, cfg.KinesisStreamName, cfg.RequestTimeout)
	}

	// --- state store ---
	var store state.Store
	switch cfg.StateBackend {
	case "redis":
		r := state.NewRedisStore(state.RedisOpts{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.SSMParamName,
			Timeout:  cfg.StateIOTimeout,
		})
		a.closers = append(a.closers, r.Close)
		store = r
	case "memory":
		store = state.NewMemoryStore()
	default:
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		store = state.NewSSMStore(ssm.NewFromConfig(c), cfg.SSMParamName, cfg.StateIOTimeout)
	}

	// --- dead-letter archive ---
	// nil *Archive 를 interface 에 넣지 않도록 변수 타입을 interface 로 둔다.
	var archive worker.Archiver
	if cfg.ArchiveBucket != "" {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		client := s3.NewFromConfig(c, func(o *s3.Options) {
			o.RetryMaxAttempts = 1
		})
		archive = worker.NewArchive(client, worker.ArchiveOpts{
			Bucket:     cfg.ArchiveBucket,
			Prefix:     cfg.ArchivePrefix,
			InstanceID: cfg.InstanceID,
			Timeout:    cfg.ArchiveTimeout,
			Retries:    cfg.ArchiveRetries,
		}, a.metrics)
	}

	// --- upstream ---
	client := openf1.NewClient(cfg.OpenF1BaseURL, cfg.RequestTimeout, &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	})
	detector := session.NewDetector(client, cfg.SessionGracePeriod, time.Now)

	a.poller = worker.NewPoller(
		worker.Options{
			Cycles:       cfg.CyclesPerInvocation,
			PollInterval: cfg.PollInterval,
			CallDelay:    cfg.RateLimitDelay,
			LeaseTTL:     cfg.LeaseTTL,
		},
		catalog.Default(),
		detector,
		client,
		store,
		worker.NewPublisher(sink, archive, a.metrics),
		a.metrics,
	)

	log.Info().
		Str("stream", cfg.StreamBackend).
		Str("state", cfg.StateBackend).
		Bool("archive", archive != nil).
		Int("cycles", cfg.CyclesPerInvocation).
		Dur("poll_interval", cfg.PollInterval).
		Msg("poller wired")

	return a, nil
}
