package featurestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/database"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

// PGExportStore persists export records in the feature_exports table.
type PGExportStore struct {
	db database.Queryer
}

// NewPGExportStore creates an export record store over the given connection.
func NewPGExportStore(db database.Queryer) *PGExportStore {
	return &PGExportStore{db: db}
}

func (p *PGExportStore) InsertExport(ctx context.Context, export *Export) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO feature_exports
			(id, tenant_id, feature_set, start_time, end_time, asset_ids,
			 row_count, file_size_bytes, storage_path, status, error_message,
			 created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		export.ID, export.TenantID, export.FeatureSet, export.StartTime, export.EndTime,
		export.AssetIDs, export.RowCount, export.FileSizeBytes, nullIfEmpty(export.StoragePath),
		export.Status, nullIfEmpty(export.ErrorMessage), export.CreatedAt, export.CompletedAt)
	return err
}

func (p *PGExportStore) GetExport(ctx context.Context, id string) (*Export, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id, tenant_id, feature_set, start_time, end_time, asset_ids,
		       row_count, file_size_bytes, storage_path, status, error_message,
		       created_at, completed_at
		FROM feature_exports WHERE id = $1`, id)

	export, err := scanExport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("featurestore.GetExport", "export %s", id)
		}
		return nil, err
	}
	return export, nil
}

func (p *PGExportStore) ListExports(ctx context.Context, tenantID, featureSet, status string, limit int) ([]*Export, error) {
	query := `
		SELECT id, tenant_id, feature_set, start_time, end_time, asset_ids,
		       row_count, file_size_bytes, storage_path, status, error_message,
		       created_at, completed_at
		FROM feature_exports WHERE 1=1`
	args := []any{}
	n := 0
	addFilter := func(column, value string) {
		if value == "" {
			return
		}
		n++
		query += fmt.Sprintf(" AND %s = $%d", column, n)
		args = append(args, value)
	}
	addFilter("tenant_id", tenantID)
	addFilter("feature_set", featureSet)
	addFilter("status", status)

	n++
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", n)
	args = append(args, limit)

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Export
	for rows.Next() {
		export, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, export)
	}
	return out, rows.Err()
}

func scanExport(row pgx.Row) (*Export, error) {
	var export Export
	var storagePath, errorMessage *string
	err := row.Scan(&export.ID, &export.TenantID, &export.FeatureSet,
		&export.StartTime, &export.EndTime, &export.AssetIDs,
		&export.RowCount, &export.FileSizeBytes, &storagePath,
		&export.Status, &errorMessage, &export.CreatedAt, &export.CompletedAt)
	if err != nil {
		return nil, err
	}
	if storagePath != nil {
		export.StoragePath = *storagePath
	}
	if errorMessage != nil {
		export.ErrorMessage = *errorMessage
	}
	return &export, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// PGExportSource reads export rows out of the feature materialized views.
type PGExportSource struct {
	db database.Queryer
}

// NewPGExportSource creates an export source over the given connection.
func NewPGExportSource(db database.Queryer) *PGExportSource {
	return &PGExportSource{db: db}
}

// FetchRows reads every row of the view inside the request window. The view
// name comes from the fixed exportViews table, never from request input.
func (p *PGExportSource) FetchRows(ctx context.Context, view string, req ExportRequest) ([]FeatureRow, error) {
	query := fmt.Sprintf(
		`SELECT * FROM %s WHERE tenant_id = $1 AND ts >= $2 AND ts < $3`, view)
	args := []any{req.TenantID, req.StartTime, req.EndTime}
	if len(req.AssetIDs) > 0 {
		query += ` AND asset_id = ANY($4)`
		args = append(args, req.AssetIDs)
	}
	query += ` ORDER BY asset_id, ts`

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []FeatureRow
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}

		row := FeatureRow{Values: make(map[string]float64, len(fields))}
		for i, field := range fields {
			switch field.Name {
			case "tenant_id":
				row.TenantID, _ = values[i].(string)
			case "asset_id":
				row.AssetID, _ = values[i].(string)
			case "ts":
				row.Ts, _ = values[i].(time.Time)
			default:
				if v, ok := toFloat(values[i]); ok {
					row.Values[field.Name] = v
				}
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case int16:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
