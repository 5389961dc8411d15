package worker

import (
	"time"

	"f1-poller/internal/model"
	"f1-poller/internal/stream"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// PartitionKey 는 ep 의 partition 필드 값을 문자열로 돌려준다.
// 필드가 없거나 값이 비어 있으면 "global".
func PartitionKey(ep model.EndpointConfig, r model.Record) string {
	if ep.PartitionKeyField == "" {
		return model.GlobalPartition
	}
	if v, ok := r.String(ep.PartitionKeyField); ok && v != "" {
		return v
	}
	return model.GlobalPartition
}

// BuildEntries
// ------------------------------------------------------------
// 레코드를 Envelope 로 감싸 stream Entry 로 직렬화한다.
// ingestedAt 은 호출 시점의 엔진 시각으로 배치 전체에 같은 값을 쓴다.
// 직렬화에 실패한 레코드는 로그를 남기고 건너뛴다.
func BuildEntries(ep model.EndpointConfig, sessionKey string, records []model.Record, ingestedAt time.Time) []stream.Entry {
	out := make([]stream.Entry, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(model.Envelope{
			Endpoint:   ep.Name,
			SessionKey: sessionKey,
			IngestedAt: ingestedAt.UTC(),
			Data:       r,
		})
		if err != nil {
			log.Warn().Err(err).Str("endpoint", ep.Name).Msg("skipping unencodable record")
			continue
		}
		out = append(out, stream.Entry{Data: data, PartitionKey: PartitionKey(ep, r)})
	}
	return out
}

// Chunk 는 items 를 순서대로 최대 size 개씩 자른다.
// 각 chunk 는 원본 slice 의 부분 slice 이다.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}
