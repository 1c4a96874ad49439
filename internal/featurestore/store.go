package featurestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/spf13/afero"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// Lag and rolling-window horizons served by the cold tiers, in hours.
var (
	lagHorizons     = []int{1, 24, 168}
	rollingHorizons = []int{24, 168}
)

// GetRequest is an online feature lookup.
type GetRequest struct {
	TenantID     string    `json:"tenant_id"`
	AssetID      string    `json:"asset_id"`
	FeatureType  string    `json:"feature_type"`
	Timestamp    time.Time `json:"timestamp"`
	LookbackHrs  int       `json:"lookback_hours"`
	FeatureNames []string  `json:"feature_names,omitempty"`
}

// FeatureSetInfo describes one named feature set.
type FeatureSetInfo struct {
	Name     string   `json:"name"`
	Features []string `json:"features"`
}

// StoreParams collects the store's collaborators.
type StoreParams struct {
	Cache      Cache
	Cold       ColdStore
	Exports    ExportStore
	Source     ExportSource
	Files      afero.Fs
	Logger     logging.Interface
	TTL        time.Duration
	ExportPath string
}

// Store is the two-tier feature service.
type Store struct {
	cache      Cache
	cold       ColdStore
	exports    ExportStore
	source     ExportSource
	files      afero.Fs
	ttl        time.Duration
	exportPath string
	logger     logging.Interface
}

// NewStore assembles the service. A nil Cache disables the hot tier and a nil
// ColdStore limits responses to calendar features.
func NewStore(params StoreParams) *Store {
	logger := params.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	files := params.Files
	if files == nil {
		files = afero.NewOsFs()
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &Store{
		cache:      params.Cache,
		cold:       params.Cold,
		exports:    params.Exports,
		source:     params.Source,
		files:      files,
		ttl:        ttl,
		exportPath: params.ExportPath,
		logger:     logger,
	}
}

// GetFeatures serves the online path: hot-cache lookup, cold compute on miss,
// write-through, then projection to the requested names. Cache failures are
// logged and bypassed, never surfaced.
func (s *Store) GetFeatures(ctx context.Context, req GetRequest) (map[string]float64, error) {
	const op = "featurestore.GetFeatures"
	if req.TenantID == "" {
		return nil, errs.Validation(op, "tenant_id is required")
	}
	if req.AssetID == "" {
		return nil, errs.Validation(op, "asset_id is required")
	}
	if req.FeatureType == "" {
		req.FeatureType = "all"
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	key := CacheKey(req.TenantID, req.AssetID, req.FeatureType, req.Timestamp)
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			var features map[string]float64
			if decodeErr := json.Unmarshal(raw, &features); decodeErr == nil {
				cacheHits.WithLabelValues(req.FeatureType).Inc()
				return s.project(features, req), nil
			}
			s.logger.WithField("key", key).Warn("discarding undecodable feature cache entry")
		case errors.Is(err, ErrCacheMiss):
		default:
			s.logger.WithError(err).WithField("key", key).Warn("feature cache read failed")
		}
	}
	cacheMisses.WithLabelValues(req.FeatureType).Inc()

	features := s.computeFeatures(ctx, req)

	if s.cache != nil {
		if raw, err := json.Marshal(features); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
				s.logger.WithError(err).WithField("key", key).Warn("feature cache write failed")
			}
		}
	}

	return s.project(features, req), nil
}

// project narrows the full feature map to the requested names. Explicit names
// win over the feature-set projection; an unknown set falls back to all
// features with a warning.
func (s *Store) project(features map[string]float64, req GetRequest) map[string]float64 {
	if len(req.FeatureNames) > 0 {
		return Project(features, req.FeatureNames)
	}
	if req.FeatureType == "" || req.FeatureType == "all" {
		return features
	}
	names, ok := FeatureSet(req.FeatureType)
	if !ok {
		s.logger.WithField("feature_set", req.FeatureType).
			Warn("unknown feature set, returning all features")
		return features
	}
	return Project(features, names)
}

// computeFeatures layers the cold tiers. Each tier degrades independently;
// calendar features are the guaranteed floor.
func (s *Store) computeFeatures(ctx context.Context, req GetRequest) map[string]float64 {
	features := TimeFeatures(req.Timestamp)
	if s.cold == nil {
		return features
	}

	log := s.logger.WithField("tenant_id", req.TenantID).WithField("asset_id", req.AssetID)

	if agg, err := s.cold.HourlyAggregate(ctx, req.TenantID, req.AssetID, req.Timestamp); err != nil {
		log.WithError(err).Warn("hourly aggregate tier degraded")
	} else if agg != nil {
		features["hourly_avg"] = agg.Avg
		features["hourly_std"] = agg.Std
		features["hourly_min"] = agg.Min
		features["hourly_max"] = agg.Max
		features["hourly_median"] = agg.Median
		if agg.Avg != 0 {
			features["hourly_cv"] = agg.Std / math.Abs(agg.Avg)
		}
	}

	if agg, err := s.cold.DailyAggregate(ctx, req.TenantID, req.AssetID, req.Timestamp); err != nil {
		log.WithError(err).Warn("daily aggregate tier degraded")
	} else if agg != nil {
		features["daily_avg"] = agg.Avg
		features["daily_std"] = agg.Std
		features["daily_min"] = agg.Min
		features["daily_max"] = agg.Max
	}

	if lags, err := s.cold.LagFeatures(ctx, req.TenantID, req.AssetID, req.Timestamp, lagHorizons); err != nil {
		log.WithError(err).Warn("lag feature tier degraded")
	} else {
		for hours, value := range lags {
			features[fmt.Sprintf("lag_%dh", hours)] = value
		}
	}

	for _, window := range rollingHorizons {
		if roll, err := s.cold.RollingFeatures(ctx, req.TenantID, req.AssetID, req.Timestamp, window); err != nil {
			log.WithError(err).WithField("window_hours", window).Warn("rolling window tier degraded")
		} else if roll != nil {
			features[fmt.Sprintf("rolling_%dh_avg", window)] = roll.Avg
			features[fmt.Sprintf("rolling_%dh_std", window)] = roll.Std
			features[fmt.Sprintf("rolling_%dh_min", window)] = roll.Min
			features[fmt.Sprintf("rolling_%dh_max", window)] = roll.Max
		}
	}

	if weather, err := s.cold.LatestWeather(ctx, req.Timestamp); err != nil {
		log.WithError(err).Warn("weather tier degraded")
	} else {
		for name, value := range weather {
			features[name] = value
		}
	}

	return features
}

// InvalidateAsset purges every cached entry of one asset. Unlike the lookup
// path this surfaces cache failures: the caller explicitly asked for a cache
// mutation.
func (s *Store) InvalidateAsset(ctx context.Context, tenantID, assetID string) (int, error) {
	const op = "featurestore.InvalidateAsset"
	if tenantID == "" || assetID == "" {
		return 0, errs.Validation(op, "tenant_id and asset_id are required")
	}
	if s.cache == nil {
		return 0, nil
	}

	pattern := fmt.Sprintf("features:%s:%s:*", tenantID, assetID)
	deleted, err := s.cache.DeletePattern(ctx, pattern)
	if err != nil {
		return deleted, errs.Unavailable(op, err)
	}
	return deleted, nil
}

// ListFeatureSets enumerates the named feature sets and their members.
func (s *Store) ListFeatureSets() []FeatureSetInfo {
	names := FeatureSetNames()
	out := make([]FeatureSetInfo, 0, len(names))
	for _, name := range names {
		features, _ := FeatureSet(name)
		out = append(out, FeatureSetInfo{Name: name, Features: features})
	}
	return out
}
