// Package stream 은 append-only ingestion stream 으로의 쓰기 경로다.
package stream

import "context"

// MaxBatchSize 는 sink 한 번의 배치 호출에 넣을 수 있는 최대 레코드 수
// (Kinesis PutRecords 한도).
const MaxBatchSize = 500

// Entry 는 stream 레코드 1건. Data 는 envelope 의 UTF-8 JSON.
type Entry struct {
	Data         []byte
	PartitionKey string
}

// Result 는 배치 호출 1회의 결과.
// 호출 자체는 성공했지만 일부 레코드가 거절된 경우 Rejected 에 담긴다.
type Result struct {
	Failed   int
	Rejected []Entry
}

// Sink
//
// 배치 쓰기 인터페이스.
//   - 호출 전체가 실패하면 error (배치의 모든 레코드가 실패한 것으로 본다)
//   - 부분 실패는 error 없이 Result.Failed 로 알린다
type Sink interface {
	PutBatch(ctx context.Context, entries []Entry) (Result, error)
}
