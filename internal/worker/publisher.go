package worker

import (
	"context"
	"sync/atomic"

	"f1-poller/internal/metrics"
	"f1-poller/internal/stream"

	"github.com/rs/zerolog/log"
)

// Archiver 는 보내지 못한 entry 를 기록하는 곳 (nil 이면 비활성).
type Archiver interface {
	Store(ctx context.Context, entries []stream.Entry) (string, error)
}

// Publisher
//
// chunk 단위로 sink 에 배치를 보내고 수락된 레코드 수를 돌려준다.
//   - 부분 실패: chunk 크기 - 실패 건수 만큼만 센다
//   - 호출 전체 실패: 그 chunk 는 0, 재시도하지 않는다
//   - 어떤 실패도 호출자에게 에러로 올리지 않는다 (로그 + 반환 count 에만 반영)
//
// cursor 는 이미 앞으로 갔으므로 실패한 배치는 다음 cycle 에 다시 오지 않는다.
// 이는 허용된 손실이며, archive 가 켜져 있으면 S3 에 남는다.
type Publisher struct {
	sink    stream.Sink
	archive Archiver
	metrics *metrics.Metrics
}

// NewPublisher 는 sink 가 nil 이면 아무것도 보내지 않는 publisher 를 만든다
// (stream 이 설정되지 않은 환경).
func NewPublisher(sink stream.Sink, archive Archiver, m *metrics.Metrics) *Publisher {
	return &Publisher{sink: sink, archive: archive, metrics: m}
}

// Publish 는 모든 chunk 를 순서대로 보내고 수락된 총 레코드 수를 돌려준다.
func (p *Publisher) Publish(ctx context.Context, chunks [][]stream.Entry) int {
	if p.sink == nil {
		var n int
		for _, c := range chunks {
			n += len(c)
		}
		if n > 0 {
			log.Warn().Int("records", n).Msg("stream not configured, records not published")
		}
		return 0
	}

	total := 0
	for i, chunk := range chunks {
		if len(chunk) == 0 {
			continue
		}

		res, err := p.sink.PutBatch(ctx, chunk)
		if err != nil {
			log.Error().Err(err).Int("chunk", i).Int("records", len(chunk)).Msg("stream batch failed")
			atomic.AddInt64(&p.metrics.RecordsRejectedTotal, int64(len(chunk)))
			p.store(ctx, chunk)
			continue
		}

		failed := res.Failed
		if failed > len(chunk) {
			failed = len(chunk)
		}
		if failed > 0 {
			log.Warn().Int("chunk", i).Int("failed", failed).Int("records", len(chunk)).Msg("stream batch partially failed")
			atomic.AddInt64(&p.metrics.RecordsRejectedTotal, int64(failed))
			p.store(ctx, res.Rejected)
		}

		sent := len(chunk) - failed
		total += sent
		atomic.AddInt64(&p.metrics.RecordsPublishedTotal, int64(sent))
	}
	return total
}

func (p *Publisher) store(ctx context.Context, entries []stream.Entry) {
	if p.archive == nil || len(entries) == 0 {
		return
	}
	key, err := p.archive.Store(ctx, entries)
	if err != nil {
		log.Error().Err(err).Int("records", len(entries)).Msg("dead-letter archive failed")
		return
	}
	log.Info().Str("key", key).Int("records", len(entries)).Msg("rejected records archived")
}
