package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter 는 KafkaSink 가 쓰는 kafka.Writer 메서드 (테스트에서 대체).
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink
//
// Kinesis 대신 Kafka topic 으로 보내는 sink (STREAM_BACKEND=kafka).
// partition key 는 message key 가 되고 Hash balancer 로 파티션을 고른다.
// 같은 드라이버의 레코드가 같은 파티션에 모이는 것은 Kinesis 와 동일하다.
//
// 동기 쓰기만 사용한다. Async 이면 실패 건수를 배치 단위로 알 수 없다.
type KafkaSink struct {
	w KafkaWriter
}

func NewKafkaSink(brokers []string, topic string, timeout time.Duration) *KafkaSink {
	return &KafkaSink{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    MaxBatchSize,
		BatchBytes:   5 << 20,
		BatchTimeout: 5 * time.Millisecond,
		WriteTimeout: timeout,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
	}}
}

func newKafkaSinkWithWriter(w KafkaWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

func (k *KafkaSink) PutBatch(ctx context.Context, entries []Entry) (Result, error) {
	if len(entries) == 0 {
		return Result{}, nil
	}

	msgs := make([]kafka.Message, len(entries))
	for i, e := range entries {
		msgs[i] = kafka.Message{Key: []byte(e.PartitionKey), Value: e.Data}
	}

	err := k.w.WriteMessages(ctx, msgs...)
	if err == nil {
		return Result{}, nil
	}

	// WriteErrors 는 메시지별 결과. 나머지 에러는 배치 전체 실패.
	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) {
		res := Result{}
		for i, e := range werrs {
			if e != nil && i < len(entries) {
				res.Failed++
				res.Rejected = append(res.Rejected, entries[i])
			}
		}
		return res, nil
	}
	return Result{}, fmt.Errorf("kafka write: %w", err)
}

func (k *KafkaSink) Close() error {
	return k.w.Close()
}
