package featurestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeFeatures(t *testing.T) {
	tests := []struct {
		name string
		ts   time.Time
		want map[string]float64
	}{
		{
			name: "weekday afternoon",
			// Wednesday 2025-06-18 14:30 UTC
			ts: time.Date(2025, 6, 18, 14, 30, 0, 0, time.UTC),
			want: map[string]float64{
				"hour_of_day":  14,
				"day_of_week":  2,
				"day_of_month": 18,
				"month":        6,
				"quarter":      2,
				"is_weekend":   0,
			},
		},
		{
			name: "sunday morning",
			// Sunday 2025-01-05 08:00 UTC
			ts: time.Date(2025, 1, 5, 8, 0, 0, 0, time.UTC),
			want: map[string]float64{
				"hour_of_day":  8,
				"day_of_week":  6,
				"day_of_month": 5,
				"month":        1,
				"quarter":      1,
				"is_weekend":   1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TimeFeatures(tt.ts))
		})
	}
}

func TestCacheKey(t *testing.T) {
	ts := time.Date(2025, 6, 18, 14, 30, 45, 0, time.UTC)
	key := CacheKey("acme", "meter-1", SetForecastBasic, ts)
	assert.Equal(t, "features:acme:meter-1:forecast_basic:2025061814", key)

	// timestamps within the same hour share a key
	later := ts.Add(20 * time.Minute)
	assert.Equal(t, key, CacheKey("acme", "meter-1", SetForecastBasic, later))

	// the next hour gets its own bucket
	nextHour := ts.Add(time.Hour)
	assert.NotEqual(t, key, CacheKey("acme", "meter-1", SetForecastBasic, nextHour))
}

func TestProject(t *testing.T) {
	features := map[string]float64{"a": 1, "b": 2, "c": 3}

	assert.Equal(t, map[string]float64{"a": 1, "c": 3}, Project(features, []string{"a", "c", "missing"}))
	assert.Equal(t, features, Project(features, nil))
}

func TestFeatureSets(t *testing.T) {
	names := FeatureSetNames()
	assert.Equal(t, []string{SetAnomalyDetection, SetForecastAdvanced, SetForecastBasic}, names)

	basic, ok := FeatureSet(SetForecastBasic)
	assert.True(t, ok)
	assert.Contains(t, basic, "lag_24h")
	assert.Contains(t, basic, "hour_of_day")

	_, ok = FeatureSet("bogus")
	assert.False(t, ok)
}
