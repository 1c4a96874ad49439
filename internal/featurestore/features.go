// Package featurestore serves model features from a two-tier store: a Redis
// hot cache in front of relational aggregates, lag/rolling window functions
// and weather observations. It also produces columnar batch exports for
// offline training.
package featurestore

import (
	"fmt"
	"sort"
	"time"
)

// Named feature sets. A feature set is a projection of the full feature
// vector used by one model family.
const (
	SetForecastBasic    = "forecast_basic"
	SetForecastAdvanced = "forecast_advanced"
	SetAnomalyDetection = "anomaly_detection"
)

var featureSets = map[string][]string{
	SetForecastBasic: {
		"hour_of_day", "day_of_week", "is_weekend", "month",
		"hourly_avg", "hourly_std",
		"lag_1h", "lag_24h", "lag_168h",
		"temperature_c", "humidity_pct",
	},
	SetForecastAdvanced: {
		"hour_of_day", "day_of_week", "day_of_month", "month", "quarter", "is_weekend",
		"hourly_avg", "hourly_std", "hourly_min", "hourly_max", "hourly_median",
		"daily_avg", "daily_std", "daily_min", "daily_max",
		"lag_1h", "lag_24h", "lag_168h",
		"rolling_24h_avg", "rolling_24h_std", "rolling_168h_avg", "rolling_168h_std",
		"temperature_c", "humidity_pct", "wind_speed_ms", "cloud_cover_pct", "radiation_wm2",
	},
	SetAnomalyDetection: {
		"hourly_avg", "hourly_std", "hourly_min", "hourly_max", "hourly_median", "hourly_cv",
		"daily_avg", "daily_std",
		"rolling_24h_avg", "rolling_24h_std",
		"lag_24h", "lag_168h",
	},
}

// FeatureSet returns the feature names of a named set.
func FeatureSet(name string) ([]string, bool) {
	names, ok := featureSets[name]
	return names, ok
}

// FeatureSetNames returns all known set names, sorted.
func FeatureSetNames() []string {
	names := make([]string, 0, len(featureSets))
	for name := range featureSets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CacheKey computes the canonical hot-cache key. The timestamp is bucketed to
// the hour so lookups within the same hour share one entry.
func CacheKey(tenantID, assetID, featureType string, ts time.Time) string {
	bucket := ts.UTC().Truncate(time.Hour).Format("2006010215")
	return fmt.Sprintf("features:%s:%s:%s:%s", tenantID, assetID, featureType, bucket)
}

// TimeFeatures derives the calendar features of a timestamp. This tier needs
// no storage and is the guaranteed floor of every response.
func TimeFeatures(ts time.Time) map[string]float64 {
	ts = ts.UTC()

	// Monday = 0 .. Sunday = 6
	dayOfWeek := (int(ts.Weekday()) + 6) % 7
	isWeekend := 0.0
	if dayOfWeek >= 5 {
		isWeekend = 1.0
	}

	return map[string]float64{
		"hour_of_day":  float64(ts.Hour()),
		"day_of_week":  float64(dayOfWeek),
		"day_of_month": float64(ts.Day()),
		"month":        float64(int(ts.Month())),
		"quarter":      float64((int(ts.Month())-1)/3 + 1),
		"is_weekend":   isWeekend,
	}
}

// Project returns the subset of features named in names, skipping names the
// map does not contain. A nil or empty names slice returns features as-is.
func Project(features map[string]float64, names []string) map[string]float64 {
	if len(names) == 0 {
		return features
	}
	out := make(map[string]float64, len(names))
	for _, name := range names {
		if v, ok := features[name]; ok {
			out[name] = v
		}
	}
	return out
}
