package catalog

import (
	"testing"

	"f1-poller/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(eps []model.EndpointConfig) []string {
	out := make([]string, 0, len(eps))
	for _, ep := range eps {
		out = append(out, ep.Name)
	}
	return out
}

func TestSelectTierRule(t *testing.T) {
	eps := Default()
	for c := uint64(0); c < 60; c++ {
		got := map[string]bool{}
		for _, ep := range Select(c, eps) {
			got[ep.Name] = true
		}
		for _, ep := range eps {
			switch ep.Tier {
			case model.TierHigh:
				assert.True(t, got[ep.Name], "cycle %d: high %s missing", c, ep.Name)
			case model.TierMedium:
				assert.Equal(t, c%3 == 0, got[ep.Name], "cycle %d: medium %s", c, ep.Name)
			case model.TierLow:
				assert.Equal(t, c%6 == 0, got[ep.Name], "cycle %d: low %s", c, ep.Name)
			}
		}
	}
}

func TestSelectKeepsCatalogOrder(t *testing.T) {
	assert.Equal(t,
		[]string{"position", "car_data", "laps", "race_control", "weather", "pit"},
		names(Select(0, Default())))
	assert.Equal(t, []string{"position", "car_data", "laps"}, names(Select(3, Default())))
	assert.Equal(t, []string{"position", "car_data"}, names(Select(4, Default())))
}

func TestDefaultReturnsCopy(t *testing.T) {
	eps := Default()
	eps[0].Name = "mutated"
	assert.Equal(t, "position", Default()[0].Name)
}

func TestLookup(t *testing.T) {
	ep, ok := Lookup("car_data")
	require.True(t, ok)
	assert.True(t, ep.Downsample)
	assert.Equal(t, "driver_number", ep.PartitionKeyField)

	ep, ok = Lookup(DriversEndpoint)
	require.True(t, ok)
	assert.Equal(t, "driver_number", ep.PartitionKeyField)

	ep, ok = Lookup(SessionsEndpoint)
	require.True(t, ok)
	assert.Empty(t, ep.PartitionKeyField)

	_, ok = Lookup("intervals")
	assert.False(t, ok)
}
