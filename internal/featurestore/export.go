package featurestore

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// Export statuses.
const (
	ExportStatusPending   = "pending"
	ExportStatusCompleted = "completed"
	ExportStatusNoData    = "no_data"
	ExportStatusFailed    = "failed"
)

// exportViews maps feature-set names to the materialized view backing their
// bulk export. Sets without a view cannot be exported.
var exportViews = map[string]string{
	SetForecastBasic:    "forecast_basic_features",
	SetAnomalyDetection: "anomaly_detection_features",
}

// ExportRequest describes a batch export.
type ExportRequest struct {
	TenantID   string    `json:"tenant_id"`
	FeatureSet string    `json:"feature_set"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	AssetIDs   []string  `json:"asset_ids,omitempty"`
}

// Export is the durable record of a batch export.
type Export struct {
	ID            string     `json:"export_id"`
	TenantID      string     `json:"tenant_id"`
	FeatureSet    string     `json:"feature_set"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	AssetIDs      []string   `json:"asset_ids,omitempty"`
	RowCount      int64      `json:"row_count"`
	FileSizeBytes int64      `json:"file_size_bytes"`
	StoragePath   string     `json:"storage_path,omitempty"`
	Status        string     `json:"status"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ExportStore persists export records.
type ExportStore interface {
	InsertExport(ctx context.Context, export *Export) error
	GetExport(ctx context.Context, id string) (*Export, error)
	ListExports(ctx context.Context, tenantID, featureSet, status string, limit int) ([]*Export, error)
}

// ExportSource reads feature rows out of a materialized view.
type ExportSource interface {
	FetchRows(ctx context.Context, view string, req ExportRequest) ([]FeatureRow, error)
}

// FeatureRow is one exported row keyed by (tenant, asset, timestamp).
type FeatureRow struct {
	TenantID string
	AssetID  string
	Ts       time.Time
	Values   map[string]float64
}

// exportRecord is the long-format parquet row: one (feature, value) pair per
// record, which keeps the schema stable across feature sets.
type exportRecord struct {
	TenantID  string  `parquet:"tenant_id,dict"`
	AssetID   string  `parquet:"asset_id,dict"`
	Timestamp int64   `parquet:"timestamp,timestamp"`
	Feature   string  `parquet:"feature,dict"`
	Value     float64 `parquet:"value"`
}

// ExportToParquet runs a batch export: fetch rows from the set's view, write
// a snappy-compressed parquet file, record the export row. An empty result
// records no_data and writes no file; a write failure records a failed row
// and then surfaces the error.
func (s *Store) ExportToParquet(ctx context.Context, req ExportRequest) (*Export, error) {
	const op = "featurestore.ExportToParquet"
	if req.TenantID == "" {
		return nil, errs.Validation(op, "tenant_id is required")
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, errs.Validation(op, "end_time must be after start_time")
	}
	view, ok := exportViews[req.FeatureSet]
	if !ok {
		return nil, errs.Validation(op, "feature set %q has no export view", req.FeatureSet)
	}
	if s.source == nil || s.exports == nil {
		return nil, errs.E(op, errs.KindConfig, errs.ErrInvalidConfig)
	}

	export := &Export{
		ID:         uuid.NewString(),
		TenantID:   req.TenantID,
		FeatureSet: req.FeatureSet,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		AssetIDs:   req.AssetIDs,
		Status:     ExportStatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	rows, err := s.source.FetchRows(ctx, view, req)
	if err != nil {
		s.recordExportFailure(ctx, export, err)
		return nil, errs.Unavailable(op, err)
	}

	if len(rows) == 0 {
		now := time.Now().UTC()
		export.Status = ExportStatusNoData
		export.CompletedAt = &now
		if err := s.exports.InsertExport(ctx, export); err != nil {
			return nil, errs.Unavailable(op, err)
		}
		exportsTotal.WithLabelValues(ExportStatusNoData).Inc()
		return export, nil
	}

	path := filepath.Join(s.exportPath, fmt.Sprintf("ai_features_%s_%s.parquet",
		req.FeatureSet, time.Now().UTC().Format("20060102T150405")))

	size, err := s.writeParquet(path, rows)
	if err != nil {
		_ = s.files.Remove(path)
		s.recordExportFailure(ctx, export, err)
		return nil, errs.Internal(op, err)
	}

	now := time.Now().UTC()
	export.Status = ExportStatusCompleted
	export.RowCount = int64(len(rows))
	export.FileSizeBytes = size
	export.StoragePath = path
	export.CompletedAt = &now
	if err := s.exports.InsertExport(ctx, export); err != nil {
		return nil, errs.Unavailable(op, err)
	}
	exportsTotal.WithLabelValues(ExportStatusCompleted).Inc()

	s.logger.WithField("export_id", export.ID).
		WithField("feature_set", export.FeatureSet).
		WithField("rows", export.RowCount).
		WithField("bytes", export.FileSizeBytes).
		Info("feature export completed")
	return export, nil
}

// FetchTrainingRows reads raw feature rows for a training window from the
// set's export view, without writing a file or an export record. Rows come
// back ordered by (timestamp, asset) so callers can split them
// chronologically.
func (s *Store) FetchTrainingRows(ctx context.Context, req ExportRequest) ([]FeatureRow, error) {
	const op = "featurestore.FetchTrainingRows"
	if req.TenantID == "" {
		return nil, errs.Validation(op, "tenant_id is required")
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, errs.Validation(op, "end_time must be after start_time")
	}
	view, ok := exportViews[req.FeatureSet]
	if !ok {
		return nil, errs.Validation(op, "feature set %q has no export view", req.FeatureSet)
	}
	if s.source == nil {
		return nil, errs.E(op, errs.KindConfig, errs.ErrInvalidConfig)
	}

	rows, err := s.source.FetchRows(ctx, view, req)
	if err != nil {
		return nil, errs.Unavailable(op, err)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Ts.Equal(rows[j].Ts) {
			return rows[i].Ts.Before(rows[j].Ts)
		}
		return rows[i].AssetID < rows[j].AssetID
	})
	return rows, nil
}

func (s *Store) writeParquet(path string, rows []FeatureRow) (int64, error) {
	if err := s.files.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	file, err := s.files.Create(path)
	if err != nil {
		return 0, err
	}

	writer := parquet.NewGenericWriter[exportRecord](file, parquet.Compression(&parquet.Snappy))
	for _, row := range rows {
		names := make([]string, 0, len(row.Values))
		for name := range row.Values {
			names = append(names, name)
		}
		sort.Strings(names)

		records := make([]exportRecord, 0, len(names))
		for _, name := range names {
			records = append(records, exportRecord{
				TenantID:  row.TenantID,
				AssetID:   row.AssetID,
				Timestamp: row.Ts.UTC().UnixMilli(),
				Feature:   name,
				Value:     row.Values[name],
			})
		}
		if _, err := writer.Write(records); err != nil {
			_ = file.Close()
			return 0, err
		}
	}
	if err := writer.Close(); err != nil {
		_ = file.Close()
		return 0, err
	}
	if err := file.Close(); err != nil {
		return 0, err
	}

	info, err := s.files.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *Store) recordExportFailure(ctx context.Context, export *Export, cause error) {
	now := time.Now().UTC()
	export.Status = ExportStatusFailed
	export.ErrorMessage = cause.Error()
	export.CompletedAt = &now
	if err := s.exports.InsertExport(ctx, export); err != nil {
		s.logger.WithError(err).WithField("export_id", export.ID).
			Error("recording failed export")
	}
	exportsTotal.WithLabelValues(ExportStatusFailed).Inc()
}

// GetExport fetches one export record.
func (s *Store) GetExport(ctx context.Context, id string) (*Export, error) {
	if s.exports == nil {
		return nil, errs.NotFound("featurestore.GetExport", "export %s", id)
	}
	return s.exports.GetExport(ctx, id)
}

// ListExports lists export records newest-first with optional filters.
func (s *Store) ListExports(ctx context.Context, tenantID, featureSet, status string, limit int) ([]*Export, error) {
	if s.exports == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.exports.ListExports(ctx, tenantID, featureSet, status, limit)
}
