package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"f1-poller/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMAPI 는 SSMStore 가 쓰는 ssm.Client 메서드 집합 (테스트에서 대체).
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, in *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// SSMStore
//
// SSM Parameter Store 의 String 파라미터 하나에 PollState JSON 을 저장한다.
//   - ParameterNotFound 는 첫 실행이므로 (nil, nil)
//   - 호출 1회당 timeout 적용
//   - lease 는 지원하지 않는다. invocation 이 겹치지 않는다는 것은
//     EventBridge 스케줄 주기(1분) > invocation 실행 시간(~55초) 에 기대는 외부 보장이다.
type SSMStore struct {
	client  SSMAPI
	name    string
	timeout time.Duration
}

func NewSSMStore(client SSMAPI, name string, timeout time.Duration) *SSMStore {
	return &SSMStore{client: client, name: name, timeout: timeout}
}

func (s *SSMStore) Load(ctx context.Context) (*model.PollState, error) {
	ctx2, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := s.client.GetParameter(ctx2, &ssm.GetParameterInput{
		Name: aws.String(s.name),
	})
	if err != nil {
		var nf *ssmtypes.ParameterNotFound
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, fmt.Errorf("ssm get %s: %w", s.name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, nil
	}
	return decode([]byte(aws.ToString(out.Parameter.Value)))
}

func (s *SSMStore) Save(ctx context.Context, st *model.PollState) error {
	raw, err := encode(st)
	if err != nil {
		return err
	}

	ctx2, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err = s.client.PutParameter(ctx2, &ssm.PutParameterInput{
		Name:      aws.String(s.name),
		Value:     aws.String(string(raw)),
		Type:      ssmtypes.ParameterTypeString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("ssm put %s: %w", s.name, err)
	}
	return nil
}

func (s *SSMStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
