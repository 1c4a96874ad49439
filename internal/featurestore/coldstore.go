package featurestore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/database"
)

// Aggregate is one bucket of a continuous aggregate view.
type Aggregate struct {
	Avg         float64
	Std         float64
	Min         float64
	Max         float64
	Median      float64
	SampleCount int64
}

// RollingWindow summarizes measurements over a trailing window.
type RollingWindow struct {
	Avg float64
	Std float64
	Min float64
	Max float64
}

// ColdStore computes feature tiers from durable storage. Implementations
// return (nil, nil) when a tier simply has no data for the key; errors are
// reserved for storage failures.
type ColdStore interface {
	HourlyAggregate(ctx context.Context, tenantID, assetID string, ts time.Time) (*Aggregate, error)
	DailyAggregate(ctx context.Context, tenantID, assetID string, ts time.Time) (*Aggregate, error)
	LagFeatures(ctx context.Context, tenantID, assetID string, ts time.Time, lagHours []int) (map[int]float64, error)
	RollingFeatures(ctx context.Context, tenantID, assetID string, ts time.Time, windowHours int) (*RollingWindow, error)
	LatestWeather(ctx context.Context, ts time.Time) (map[string]float64, error)
}

// PGColdStore serves the cold tiers from the relational store's materialized
// views and stored functions.
type PGColdStore struct {
	db database.Queryer
}

// NewPGColdStore creates a cold store over the given connection.
func NewPGColdStore(db database.Queryer) *PGColdStore {
	return &PGColdStore{db: db}
}

func (p *PGColdStore) HourlyAggregate(ctx context.Context, tenantID, assetID string, ts time.Time) (*Aggregate, error) {
	const query = `
		SELECT avg_value, stddev_value, min_value, max_value, median_value, sample_count
		FROM hourly_features
		WHERE tenant_id = $1 AND asset_id = $2 AND hour = date_trunc('hour', $3::timestamptz)`
	return p.scanAggregate(p.db.QueryRow(ctx, query, tenantID, assetID, ts))
}

func (p *PGColdStore) DailyAggregate(ctx context.Context, tenantID, assetID string, ts time.Time) (*Aggregate, error) {
	const query = `
		SELECT avg_value, stddev_value, min_value, max_value, median_value, sample_count
		FROM daily_features
		WHERE tenant_id = $1 AND asset_id = $2 AND day = date_trunc('day', $3::timestamptz)`
	return p.scanAggregate(p.db.QueryRow(ctx, query, tenantID, assetID, ts))
}

func (p *PGColdStore) scanAggregate(row pgx.Row) (*Aggregate, error) {
	var a Aggregate
	err := row.Scan(&a.Avg, &a.Std, &a.Min, &a.Max, &a.Median, &a.SampleCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (p *PGColdStore) LagFeatures(ctx context.Context, tenantID, assetID string, ts time.Time, lagHours []int) (map[int]float64, error) {
	lags := make([]int32, len(lagHours))
	for i, h := range lagHours {
		lags[i] = int32(h)
	}

	rows, err := p.db.Query(ctx,
		`SELECT lag_hours, value FROM get_lag_features($1, $2, $3, $4)`,
		tenantID, assetID, ts, lags)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]float64)
	for rows.Next() {
		var hours int32
		var value float64
		if err := rows.Scan(&hours, &value); err != nil {
			return nil, err
		}
		out[int(hours)] = value
	}
	return out, rows.Err()
}

func (p *PGColdStore) RollingFeatures(ctx context.Context, tenantID, assetID string, ts time.Time, windowHours int) (*RollingWindow, error) {
	row := p.db.QueryRow(ctx,
		`SELECT avg_value, stddev_value, min_value, max_value FROM get_rolling_features($1, $2, $3, $4)`,
		tenantID, assetID, ts, int32(windowHours))

	var avg, std, min, max *float64
	if err := row.Scan(&avg, &std, &min, &max); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	// An empty window aggregates to NULLs.
	if avg == nil {
		return nil, nil
	}

	window := &RollingWindow{Avg: *avg}
	if std != nil {
		window.Std = *std
	}
	if min != nil {
		window.Min = *min
	}
	if max != nil {
		window.Max = *max
	}
	return window, nil
}

func (p *PGColdStore) LatestWeather(ctx context.Context, ts time.Time) (map[string]float64, error) {
	row := p.db.QueryRow(ctx, `
		SELECT temperature_c, humidity_pct, wind_speed_ms, cloud_cover_pct, radiation_wm2
		FROM weather_observations
		WHERE ts <= $1
		ORDER BY ts DESC
		LIMIT 1`, ts)

	var temperature, humidity, windSpeed, cloudCover, radiation *float64
	if err := row.Scan(&temperature, &humidity, &windSpeed, &cloudCover, &radiation); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	out := make(map[string]float64, 5)
	put := func(name string, v *float64) {
		if v != nil {
			out[name] = *v
		}
	}
	put("temperature_c", temperature)
	put("humidity_pct", humidity)
	put("wind_speed_ms", windSpeed)
	put("cloud_cover_pct", cloudCover)
	put("radiation_wm2", radiation)
	return out, nil
}
