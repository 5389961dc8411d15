// internal/worker/archive.go
package worker

import (
	"bytes"
	"context"
	"sync/atomic"
	"time"

	"f1-poller/internal/metrics"
	"f1-poller/internal/stream"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3API 는 Archive 가 쓰는 s3.Client 메서드 (테스트에서 대체).
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchiveOpts 는 dead-letter archive 설정.
type ArchiveOpts struct {
	Bucket     string
	Prefix     string
	InstanceID string
	Timeout    time.Duration // PutObject 시도 1회당 timeout
	Retries    int           // 앱 레벨 재시도 횟수
}

// Archive
//
// stream 으로 보내지 못한 entry 를 S3 에 gzip+JSONL 오브젝트로 남긴다.
//   - stream 재전송이 아니다. 손실을 나중에 조사/복구할 수 있게 기록만 한다
//   - 업로드는 시도당 timeout + exponential backoff (최대 2초)
//   - 최종 실패해도 호출자에게 에러만 돌려주며 cycle 은 계속된다
type Archive struct {
	client  S3API
	opts    ArchiveOpts
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewArchive(client S3API, opts ArchiveOpts, m *metrics.Metrics) *Archive {
	if opts.Retries <= 0 {
		opts.Retries = 1
	}
	return &Archive{client: client, opts: opts, metrics: m, now: time.Now}
}

// Store 는 entries 를 오브젝트 하나로 업로드하고 key 를 돌려준다.
func (a *Archive) Store(ctx context.Context, entries []stream.Entry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	data, err := EncodeEntriesJSONLGZ(entries)
	if err != nil {
		atomic.AddInt64(&a.metrics.ArchiveErrorsTotal, 1)
		return "", err
	}

	now := a.now()
	key := BuildS3Key(a.opts.Prefix, now, NewFilename(a.opts.InstanceID, now))

	if err := a.uploadWithRetry(ctx, key, data); err != nil {
		atomic.AddInt64(&a.metrics.ArchiveErrorsTotal, 1)
		return "", err
	}

	atomic.AddInt64(&a.metrics.ArchiveObjectsTotal, 1)
	return key, nil
}

// uploadWithRetry
// -----------------------
// body 는 매 재시도마다 reader 를 새로 만들어야 하므로 bytes.NewReader 사용.
// shutdown-safe: ctx.Done() 시 즉시 중단.
func (a *Archive) uploadWithRetry(ctx context.Context, key string, body []byte) error {
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= a.opts.Retries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := a.putObject(ctx, key, body); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn().Err(err).Str("key", key).Int("attempt", attempt).Msg("archive upload failed")
		}

		if attempt == a.opts.Retries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}
	}

	return lastErr
}

func (a *Archive) putObject(ctx context.Context, key string, body []byte) error {
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.opts.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	})
	return err
}
