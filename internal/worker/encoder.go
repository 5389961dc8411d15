package worker

import (
	"f1-poller/internal/pool"
	"f1-poller/internal/stream"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// archiveLine 은 dead-letter JSONL 의 한 줄.
// payload 는 stream 으로 보내려던 envelope 바이트 그대로다.
type archiveLine struct {
	PartitionKey string          `json:"partition_key"`
	Payload      json.RawMessage `json:"payload"`
}

// EncodeEntriesJSONLGZ 는 entry 들을 JSONL 로 한 줄씩 인코딩한 뒤
// gzip 압축해 반환한다.
//
// 반환값 data 는 호출자 소유의 새 slice 이다
// (pool 버퍼를 그대로 반환하면 재사용 시 데이터가 오염된다).
func EncodeEntriesJSONLGZ(entries []stream.Entry) ([]byte, error) {
	buf := pool.GetBuffer(&pool.BufferPool)
	defer pool.PutBuffer(&pool.BufferPool, buf)

	gz := pool.GzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)
	defer pool.GzipPool.Put(gz)

	enc := json.NewEncoder(gz)
	for _, e := range entries {
		if err := enc.Encode(archiveLine{PartitionKey: e.PartitionKey, Payload: e.Data}); err != nil {
			_ = gz.Close()
			return nil, err
		}
	}

	// Close() 시 gzip footer 가 기록되어 스트림이 완성된다.
	if err := gz.Close(); err != nil {
		return nil, err
	}

	raw := buf.Bytes()
	data := make([]byte, len(raw))
	copy(data, raw)
	return data, nil
}
