// internal/openf1/client.go
package openf1

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"f1-poller/internal/model"
	"f1-poller/internal/pool"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// Status 는 endpoint 호출 1회의 결과 분류.
type Status int

const (
	StatusOK          Status = iota // 레코드 1건 이상
	StatusEmpty                     // 빈 배열
	StatusRateLimited               // HTTP 429
	StatusFailed                    // 네트워크 오류, non-2xx, 스키마 위반
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEmpty:
		return "empty"
	case StatusRateLimited:
		return "rate_limited"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result 는 Fetch 결과. Status 가 StatusFailed 일 때만 Err 가 채워진다.
type Result struct {
	Status  Status
	Records []model.Record
	Err     error
}

var (
	// ErrRateLimited 는 provider 가 429 를 돌려준 경우.
	ErrRateLimited = errors.New("openf1: rate limited")
	// ErrNotList 는 응답이 JSON 배열이 아닌 경우 (스키마 위반).
	ErrNotList = errors.New("openf1: response is not a JSON array")
)

// maxBodyBytes 는 응답 본문 상한. session 하나의 5초 분량 car_data 보다 충분히 크다.
const maxBodyBytes = 32 << 20

// Client
//
// OpenF1 REST API 읽기 전용 클라이언트.
//   - 모든 호출은 호출 1회당 timeout 을 가진다 (context.WithTimeout)
//   - 재시도하지 않는다. 실패한 구간은 cursor 가 그대로이므로 다음 cycle 이 다시 요청한다.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// NewClient 는 baseURL (예: https://api.openf1.org/v1) 용 클라이언트를 만든다.
// httpClient 가 nil 이면 기본 Transport 를 쓰는 새 클라이언트를 만든다.
func NewClient(baseURL string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		http:    httpClient,
	}
}

// Fetch
// ------------------------------------------------------------
// endpoint 에서 cursor 이후의 새 레코드를 한 번 조회한다.
//
//	GET <path>?session_key=<key>[&<timestampField>>=<cursor>]
//
// 쿼리 키 "<field>>" 는 OpenF1 의 "strictly greater than" 필터다.
// 에러를 반환하지 않고 결과를 Status 로 분류한다.
func (c *Client) Fetch(ctx context.Context, ep model.EndpointConfig, sessionKey, cursor string) Result {
	params := url.Values{}
	params.Set("session_key", sessionKey)
	if cursor != "" && ep.TimestampField != "" {
		params.Set(ep.TimestampField+">", cursor)
	}

	records, err := c.getList(ctx, ep.Path, params)
	switch {
	case errors.Is(err, ErrRateLimited):
		return Result{Status: StatusRateLimited}
	case err != nil:
		return Result{Status: StatusFailed, Err: fmt.Errorf("%s: %w", ep.Name, err)}
	case len(records) == 0:
		return Result{Status: StatusEmpty}
	default:
		return Result{Status: StatusOK, Records: records}
	}
}

// LatestSession 은 가장 최근 세션 레코드를 돌려준다.
// 세션이 없으면 (nil, nil).
func (c *Client) LatestSession(ctx context.Context) (model.Record, error) {
	sessions, err := c.getList(ctx, "/sessions", url.Values{"session_key": {"latest"}})
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

// Drivers 는 세션의 드라이버 목록을 조회한다 (세션당 1회).
func (c *Client) Drivers(ctx context.Context, sessionKey string) ([]model.Record, error) {
	drivers, err := c.getList(ctx, "/drivers", url.Values{"session_key": {sessionKey}})
	if err != nil {
		return nil, fmt.Errorf("drivers: %w", err)
	}
	return drivers, nil
}

// getList
// ------------------------------------------------------------
// GET 1회 + JSON 배열 디코딩.
//   - 429 → ErrRateLimited
//   - 그 외 non-2xx → error
//   - 배열이 아닌 본문 → ErrNotList
func (c *Client) getList(ctx context.Context, path string, params url.Values) ([]model.Record, error) {
	ctx2, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx2, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	// 직접 헤더를 넣으면 Transport 가 자동 해제하지 않으므로 아래에서 직접 푼다.
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer gz.Close()
		body = gz
	}

	buf := pool.GetBuffer(&pool.BodyPool)
	defer pool.PutBuffer(&pool.BodyPool, buf)

	if _, err := io.Copy(buf, io.LimitReader(body, maxBodyBytes)); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return decodeList(buf.Bytes())
}

// decodeList 는 본문이 JSON 배열인지 먼저 확인한 뒤 레코드로 디코딩한다.
// 숫자는 json.Number 로 유지한다.
func decodeList(raw []byte) ([]model.Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotList
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var records []model.Record
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return records, nil
}
