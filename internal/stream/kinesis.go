package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/aws/smithy-go"
)

// KinesisAPI 는 KinesisSink 가 쓰는 kinesis.Client 메서드 (테스트에서 대체).
type KinesisAPI interface {
	PutRecords(ctx context.Context, in *kinesis.PutRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error)
}

// KinesisSink
//
// Kinesis Data Streams PutRecords 로 배치를 보낸다.
//   - FailedRecordCount 로 부분 실패를 알리고, ErrorCode 가 있는 레코드를 Rejected 로 돌려준다
//   - 재시도는 하지 않는다 (SDK retry 설정은 client 생성 쪽에서 결정)
type KinesisSink struct {
	client  KinesisAPI
	stream  string
	timeout time.Duration
}

func NewKinesisSink(client KinesisAPI, streamName string, timeout time.Duration) *KinesisSink {
	return &KinesisSink{client: client, stream: streamName, timeout: timeout}
}

func (k *KinesisSink) PutBatch(ctx context.Context, entries []Entry) (Result, error) {
	if len(entries) == 0 {
		return Result{}, nil
	}
	if len(entries) > MaxBatchSize {
		return Result{}, fmt.Errorf("kinesis: batch of %d exceeds %d", len(entries), MaxBatchSize)
	}

	records := make([]types.PutRecordsRequestEntry, len(entries))
	for i, e := range entries {
		records[i] = types.PutRecordsRequestEntry{
			Data:         e.Data,
			PartitionKey: aws.String(e.PartitionKey),
		}
	}

	if k.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}

	out, err := k.client.PutRecords(ctx, &kinesis.PutRecordsInput{
		StreamName: aws.String(k.stream),
		Records:    records,
	})
	if err != nil {
		// 스트림 전체 실패 (throttling, 권한, 없는 스트림 등). 코드가 있으면 로그에 남긴다.
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return Result{}, fmt.Errorf("kinesis put records %s (%s): %w", k.stream, apiErr.ErrorCode(), err)
		}
		return Result{}, fmt.Errorf("kinesis put records %s: %w", k.stream, err)
	}

	failed := int(aws.ToInt32(out.FailedRecordCount))
	if failed == 0 {
		return Result{}, nil
	}

	// 응답 레코드 순서는 요청 순서와 같다.
	res := Result{Failed: failed}
	for i, r := range out.Records {
		if i < len(entries) && r.ErrorCode != nil {
			res.Rejected = append(res.Rejected, entries[i])
		}
	}
	return res, nil
}
