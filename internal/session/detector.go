// Package session 은 활성 세션 존재 여부와 추적 중인 세션의 종료를 판단한다.
package session

import (
	"context"
	"time"

	"f1-poller/internal/model"

	"github.com/rs/zerolog/log"
)

// DefaultGracePeriod 는 세션 공식 종료 후에도 폴링을 이어가는 시간.
// 종료 직후 늦게 올라오는 레코드를 받기 위함이다.
const DefaultGracePeriod = 5 * time.Minute

// Source 는 "가장 최근 세션" 리소스. 세션이 없으면 (nil, nil).
type Source interface {
	LatestSession(ctx context.Context) (model.Record, error)
}

// Session 은 감지된 활성 세션.
type Session struct {
	Key      string
	Metadata model.Record
}

// Detector
//
// 최근 세션을 조회해 아직 폴링해야 하는 세션인지 판단한다.
//   - 세션 없음 / 네트워크 실패 → 세션 없음
//   - date_end 가 있고 now - date_end > grace → 종료된 세션, 세션 없음
//   - date_end 를 파싱할 수 없으면 활성으로 본다 (fail open)
type Detector struct {
	src   Source
	grace time.Duration
	now   func() time.Time
}

// NewDetector 는 grace <= 0 이면 DefaultGracePeriod 를 쓴다.
func NewDetector(src Source, grace time.Duration, now func() time.Time) *Detector {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if now == nil {
		now = time.Now
	}
	return &Detector{src: src, grace: grace, now: now}
}

// Detect 는 활성 세션이 있으면 (session, true) 를 돌려준다.
func (d *Detector) Detect(ctx context.Context) (Session, bool) {
	rec, err := d.src.LatestSession(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch latest session")
		return Session{}, false
	}
	if rec == nil {
		return Session{}, false
	}

	key, ok := rec.String("session_key")
	if !ok || key == "" {
		log.Warn().Msg("latest session has no session_key")
		return Session{}, false
	}

	if end, ok := rec.Timestamp("date_end"); ok {
		endAt, err := parseTimestamp(end)
		if err != nil {
			log.Debug().Str("session", key).Str("date_end", end).Msg("unparseable date_end, treating session as active")
		} else if since := d.now().Sub(endAt); since > d.grace {
			log.Info().
				Str("session", key).
				Str("date_end", end).
				Dur("grace", d.grace).
				Msg("session ended beyond grace period, no active session")
			return Session{}, false
		}
	}

	return Session{Key: key, Metadata: rec}, true
}

// upstream 은 "+00:00" 오프셋이 붙은 ISO-8601 을 쓰지만
// 오프셋 없는 값도 UTC 로 읽는다.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, error) {
	var err error
	for _, layout := range layouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
