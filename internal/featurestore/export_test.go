package featurestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

type fakeExportStore struct {
	inserted []*Export
}

func (f *fakeExportStore) InsertExport(ctx context.Context, export *Export) error {
	f.inserted = append(f.inserted, export)
	return nil
}

func (f *fakeExportStore) GetExport(ctx context.Context, id string) (*Export, error) {
	for _, e := range f.inserted {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, errs.NotFound("featurestore.GetExport", "export %s", id)
}

func (f *fakeExportStore) ListExports(ctx context.Context, tenantID, featureSet, status string, limit int) ([]*Export, error) {
	var out []*Export
	for _, e := range f.inserted {
		if tenantID != "" && e.TenantID != tenantID {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type fakeExportSource struct {
	rows    []FeatureRow
	err     error
	gotView string
}

func (f *fakeExportSource) FetchRows(ctx context.Context, view string, req ExportRequest) ([]FeatureRow, error) {
	f.gotView = view
	return f.rows, f.err
}

func exportRows(n int) []FeatureRow {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]FeatureRow, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, FeatureRow{
			TenantID: "acme",
			AssetID:  "meter-1",
			Ts:       base.Add(time.Duration(i) * time.Hour),
			Values: map[string]float64{
				"avg_value":   100 + float64(i),
				"hour_of_day": float64(i % 24),
			},
		})
	}
	return rows
}

func newExportStore(source ExportSource, records ExportStore, fs afero.Fs) *Store {
	return NewStore(StoreParams{
		Source:     source,
		Exports:    records,
		Files:      fs,
		Logger:     logging.Discard(),
		ExportPath: "/data/exports",
	})
}

func TestExportToParquetCompleted(t *testing.T) {
	source := &fakeExportSource{rows: exportRows(48)}
	records := &fakeExportStore{}
	fs := afero.NewMemMapFs()
	store := newExportStore(source, records, fs)

	export, err := store.ExportToParquet(context.Background(), ExportRequest{
		TenantID:   "acme",
		FeatureSet: SetForecastBasic,
		StartTime:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, ExportStatusCompleted, export.Status)
	assert.Equal(t, int64(48), export.RowCount)
	assert.Positive(t, export.FileSizeBytes)
	assert.NotEmpty(t, export.StoragePath)
	assert.NotNil(t, export.CompletedAt)
	assert.Equal(t, "forecast_basic_features", source.gotView)

	info, statErr := fs.Stat(export.StoragePath)
	require.NoError(t, statErr)
	assert.Equal(t, export.FileSizeBytes, info.Size())

	require.Len(t, records.inserted, 1)
	assert.Equal(t, ExportStatusCompleted, records.inserted[0].Status)
}

func TestExportToParquetNoData(t *testing.T) {
	source := &fakeExportSource{}
	records := &fakeExportStore{}
	fs := afero.NewMemMapFs()
	store := newExportStore(source, records, fs)

	export, err := store.ExportToParquet(context.Background(), ExportRequest{
		TenantID:   "acme",
		FeatureSet: SetForecastBasic,
		StartTime:  time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2099, 12, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, ExportStatusNoData, export.Status)
	assert.Zero(t, export.RowCount)
	assert.Zero(t, export.FileSizeBytes)
	assert.Empty(t, export.StoragePath)

	// no partial file was created
	entries, readErr := afero.ReadDir(fs, "/")
	require.NoError(t, readErr)
	assert.Empty(t, entries)

	require.Len(t, records.inserted, 1)
	assert.Equal(t, ExportStatusNoData, records.inserted[0].Status)
}

func TestExportToParquetWriteFailure(t *testing.T) {
	source := &fakeExportSource{rows: exportRows(4)}
	records := &fakeExportStore{}
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	store := newExportStore(source, records, fs)

	_, err := store.ExportToParquet(context.Background(), ExportRequest{
		TenantID:   "acme",
		FeatureSet: SetForecastBasic,
		StartTime:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)

	// the failure is recorded before the error surfaces
	require.Len(t, records.inserted, 1)
	assert.Equal(t, ExportStatusFailed, records.inserted[0].Status)
	assert.NotEmpty(t, records.inserted[0].ErrorMessage)
}

func TestExportToParquetSourceFailure(t *testing.T) {
	source := &fakeExportSource{err: errors.New("db down")}
	records := &fakeExportStore{}
	store := newExportStore(source, records, afero.NewMemMapFs())

	_, err := store.ExportToParquet(context.Background(), ExportRequest{
		TenantID:   "acme",
		FeatureSet: SetAnomalyDetection,
		StartTime:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		EndTime:    time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.True(t, errs.IsUnavailable(err))

	require.Len(t, records.inserted, 1)
	assert.Equal(t, ExportStatusFailed, records.inserted[0].Status)
}

func TestExportToParquetValidation(t *testing.T) {
	store := newExportStore(&fakeExportSource{}, &fakeExportStore{}, afero.NewMemMapFs())
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.ExportToParquet(ctx, ExportRequest{
		FeatureSet: SetForecastBasic, StartTime: start, EndTime: start.Add(time.Hour),
	})
	assert.True(t, errs.IsValidation(err), "missing tenant")

	_, err = store.ExportToParquet(ctx, ExportRequest{
		TenantID: "acme", FeatureSet: SetForecastBasic, StartTime: start, EndTime: start,
	})
	assert.True(t, errs.IsValidation(err), "empty window")

	_, err = store.ExportToParquet(ctx, ExportRequest{
		TenantID: "acme", FeatureSet: "no_view", StartTime: start, EndTime: start.Add(time.Hour),
	})
	assert.True(t, errs.IsValidation(err), "set without view")
}
