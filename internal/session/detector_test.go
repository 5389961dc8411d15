package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"f1-poller/internal/model"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	rec model.Record
	err error
}

func (f fakeSource) LatestSession(context.Context) (model.Record, error) {
	return f.rec, f.err
}

var now = time.Date(2025, 12, 7, 15, 0, 0, 0, time.UTC)

func detector(rec model.Record, err error) *Detector {
	return NewDetector(fakeSource{rec: rec, err: err}, 5*time.Minute, func() time.Time { return now })
}

func TestDetectActiveSession(t *testing.T) {
	rec := model.Record{"session_key": json.Number("9160"), "date_end": "2025-12-07T16:00:00+00:00"}

	s, ok := detector(rec, nil).Detect(context.Background())
	require.True(t, ok)
	assert.Equal(t, "9160", s.Key)
	assert.Equal(t, rec, s.Metadata)
}

func TestDetectNoSession(t *testing.T) {
	_, ok := detector(nil, nil).Detect(context.Background())
	assert.False(t, ok)
}

func TestDetectNetworkFailureIsNoSession(t *testing.T) {
	_, ok := detector(nil, errors.New("dial tcp: timeout")).Detect(context.Background())
	assert.False(t, ok)
}

func TestDetectEndedBeyondGrace(t *testing.T) {
	end := now.Add(-10 * time.Minute).Format("2006-01-02T15:04:05-07:00")
	rec := model.Record{"session_key": json.Number("9159"), "date_end": end}

	_, ok := detector(rec, nil).Detect(context.Background())
	assert.False(t, ok)
}

func TestDetectEndedWithinGrace(t *testing.T) {
	end := now.Add(-3 * time.Minute).Format(time.RFC3339)
	rec := model.Record{"session_key": json.Number("9159"), "date_end": end}

	s, ok := detector(rec, nil).Detect(context.Background())
	require.True(t, ok)
	assert.Equal(t, "9159", s.Key)
}

func TestDetectNaiveEndIsUTC(t *testing.T) {
	rec := model.Record{"session_key": json.Number("9159"), "date_end": "2025-12-07T14:50:00"}

	_, ok := detector(rec, nil).Detect(context.Background())
	assert.False(t, ok)
}

func TestDetectUnparseableEndFailsOpen(t *testing.T) {
	rec := model.Record{"session_key": json.Number("9159"), "date_end": "sometime on sunday"}

	s, ok := detector(rec, nil).Detect(context.Background())
	require.True(t, ok)
	assert.Equal(t, "9159", s.Key)
}

func TestDetectMissingKey(t *testing.T) {
	_, ok := detector(model.Record{"meeting_key": json.Number("1")}, nil).Detect(context.Background())
	assert.False(t, ok)
}
