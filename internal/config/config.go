// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config
//
// poller 실행 시 필요한 모든 환경 변수 값을 보관하는 구조체.
// 모든 값은 프로세스 시작 시점에 Load() 에 의해 초기화되며,
// 이후에는 변경되지 않는 불변(read-only) 설정들이다.
//
// Lambda 는 CLI flag 를 받지 않으므로 설정 표면은 환경변수뿐이고,
// 모든 키는 기본값을 가진다 (필수 env 없음).
type Config struct {

	// ---------------------------
	// 서비스 식별 / 로깅
	// ---------------------------

	ServiceName string // 로그 공통 필드 (예: f1-poller)
	InstanceID  string // 프로세스 고유 ID (호스트명 기반, 실패 시 랜덤 hex)

	LogLevel   string // zerolog 레벨 (debug/info/warn/error)
	LogPretty  bool   // 로컬 개발용 콘솔 출력
	LogSampleN uint32 // Info/Debug 샘플링 (N개 중 1개 기록, 0/1 이면 비활성)

	// ---------------------------
	// Upstream (OpenF1)
	// ---------------------------

	OpenF1BaseURL  string        // 예: https://api.openf1.org/v1
	RequestTimeout time.Duration // API 호출 1회당 timeout

	// ---------------------------
	// 폴링 엔진 타이밍
	// ---------------------------

	CyclesPerInvocation int           // invocation 당 cycle 수 (60초 트리거 창에서 ~55초)
	PollInterval        time.Duration // cycle 간 대기
	RateLimitDelay      time.Duration // endpoint 호출 간 최소 간격 (provider 초당 quota 대응)
	SessionGracePeriod  time.Duration // 세션 종료 후 추가 폴링 허용 시간

	// ---------------------------
	// AWS 공통
	// ---------------------------

	AWSRegion string

	// ---------------------------
	// Stream sink
	// ---------------------------

	StreamBackend     string   // "kinesis" | "kafka"
	KinesisStreamName string   // 비어 있으면 publish 비활성 (경고 로그만)
	KafkaBrokers      []string // kafka backend 용
	KafkaTopic        string

	// ---------------------------
	// State store
	// ---------------------------

	StateBackend   string // "ssm" | "redis" | "memory"
	SSMParamName   string // SSM 파라미터 이름 (redis backend 에서는 key 로 사용)
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	LeaseTTL       time.Duration // 0 이면 lease 비활성
	StateIOTimeout time.Duration // state load/save 1회당 timeout

	// ---------------------------
	// Dead-letter archive (S3)
	// ---------------------------
	// stream 으로 보내지 못한 배치를 S3 에 gzip+JSONL 로 남긴다.
	// 재전송이 아니라 "잃어버린 데이터의 기록" 용도.
	// ArchiveBucket 이 비어 있으면 비활성.

	ArchiveBucket  string
	ArchivePrefix  string
	ArchiveTimeout time.Duration // 각 PutObject 시도당 timeout
	ArchiveRetries int           // 앱 레벨 재시도 횟수 (SDK retry 는 항상 0)

	// ---------------------------
	// 로컬 실행 모드 (Lambda 밖)
	// ---------------------------

	HTTPAddr        string        // /invoke, /metrics, /health
	TriggerInterval time.Duration // EventBridge 1분 스케줄 대체
}

// Load
//
// 환경 변수 기반으로 Config 값을 초기화한다.
// 값 형식이 잘못되면 즉시 프로세스를 종료(fail-fast).
func Load() Config {
	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	return cfg
}

// FromEnv 는 getenv 로 읽은 값으로 Config 를 만든다.
// 첫 번째로 발견된 형식 오류를 반환한다.
func FromEnv(getenv func(string) string) (Config, error) {
	r := reader{getenv: getenv}

	cfg := Config{
		ServiceName: r.str("SERVICE_NAME", "f1-poller"),
		InstanceID:  r.str("INSTANCE_ID", fallbackInstanceID()),

		LogLevel:   r.str("LOG_LEVEL", "info"),
		LogPretty:  r.boolean("LOG_PRETTY", false),
		LogSampleN: uint32(r.integer("LOG_SAMPLE_N", 0)),

		OpenF1BaseURL:  strings.TrimRight(r.str("OPENF1_BASE_URL", "https://api.openf1.org/v1"), "/"),
		RequestTimeout: r.seconds("REQUEST_TIMEOUT", 5*time.Second),

		CyclesPerInvocation: r.integer("CYCLES_PER_INVOCATION", 11),
		PollInterval:        r.seconds("POLL_INTERVAL", 5*time.Second),
		RateLimitDelay:      r.seconds("RATE_LIMIT_DELAY", 350*time.Millisecond),
		SessionGracePeriod:  r.seconds("SESSION_GRACE_PERIOD", 5*time.Minute),

		AWSRegion: r.str("AWS_REGION", "ap-northeast-2"),

		StreamBackend:     strings.ToLower(r.str("STREAM_BACKEND", "kinesis")),
		KinesisStreamName: r.str("KINESIS_STREAM_NAME", ""),
		KafkaBrokers:      r.list("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:        r.str("KAFKA_TOPIC", "f1-telemetry"),

		StateBackend:   strings.ToLower(r.str("STATE_BACKEND", "ssm")),
		SSMParamName:   r.str("SSM_PARAM_NAME", "/f1-telemetry/dev/poller-state"),
		RedisAddr:      r.str("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  r.str("REDIS_PASSWORD", ""),
		RedisDB:        r.integer("REDIS_DB", 0),
		LeaseTTL:       r.seconds("LEASE_TTL", 0),
		StateIOTimeout: r.seconds("STATE_IO_TIMEOUT", 3*time.Second),

		ArchiveBucket:  r.str("ARCHIVE_BUCKET", ""),
		ArchivePrefix:  strings.Trim(r.str("ARCHIVE_PREFIX", "dead-letter"), "/"),
		ArchiveTimeout: r.seconds("ARCHIVE_TIMEOUT", 5*time.Second),
		ArchiveRetries: r.integer("ARCHIVE_RETRIES", 3),

		HTTPAddr:        r.str("HTTP_ADDR", ":8080"),
		TriggerInterval: r.seconds("TRIGGER_INTERVAL", time.Minute),
	}

	if r.err != nil {
		return Config{}, r.err
	}

	switch cfg.StreamBackend {
	case "kinesis", "kafka":
	default:
		return Config{}, fmt.Errorf("unknown STREAM_BACKEND %q", cfg.StreamBackend)
	}
	switch cfg.StateBackend {
	case "ssm", "redis", "memory":
	default:
		return Config{}, fmt.Errorf("unknown STATE_BACKEND %q", cfg.StateBackend)
	}
	if cfg.CyclesPerInvocation <= 0 {
		return Config{}, fmt.Errorf("CYCLES_PER_INVOCATION must be positive, got %d", cfg.CyclesPerInvocation)
	}

	return cfg, nil
}

// reader
//
// 공통 파싱 패턴. 값이 비어 있으면 기본값, 형식이 잘못되면
// 첫 오류만 기록하고 이후 호출은 기본값을 돌려준다.
type reader struct {
	getenv func(string) string
	err    error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(fmt.Errorf("invalid int env %s=%q: %w", key, v, err))
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(fmt.Errorf("invalid bool env %s=%q: %w", key, v, err))
		return def
	}
	return b
}

// seconds 는 Go duration 문자열("350ms", "5s") 과
// 원래 배포 스크립트가 쓰던 정수/소수 초("5", "0.35") 둘 다 받는다.
func (r *reader) seconds(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(fmt.Errorf("invalid duration env %s=%q: %w", key, v, err))
		return def
	}
	return d
}

func (r *reader) list(key string, def []string) []string {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// fallbackInstanceID
//
// 이 poller 인스턴스를 식별하는 고유 값.
//   - 기본: hostname (Lambda 에서는 실행 환경마다 고유)
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
