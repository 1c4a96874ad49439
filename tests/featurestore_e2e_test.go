package integration_tests

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/featurestore"
)

var _ = Describe("Feature export batches", Ordered, func() {
	var (
		ctx   context.Context
		fs    afero.Fs
		store *featurestore.Store
		start time.Time
		end   time.Time
	)

	BeforeAll(func() {
		ctx = context.Background()
		fs = afero.NewMemMapFs()
		start = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		end = start.Add(48 * time.Hour)
		store = featurestore.NewStore(featurestore.StoreParams{
			Exports:    newMemExportStore(),
			Source:     &memExportSource{rows: syntheticLoadRows("tenant-a", "meter-001", start, end)},
			Files:      fs,
			ExportPath: "/exports",
		})
	})

	It("writes a parquet file for a populated window", func() {
		export, err := store.ExportToParquet(ctx, featurestore.ExportRequest{
			TenantID:   "tenant-a",
			FeatureSet: featurestore.SetForecastBasic,
			StartTime:  start,
			EndTime:    end,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(export.Status).To(Equal(featurestore.ExportStatusCompleted))
		Expect(export.RowCount).To(Equal(int64(48)))
		Expect(export.FileSizeBytes).To(BeNumerically(">", 0))
		Expect(export.CompletedAt).NotTo(BeNil())

		exists, err := afero.Exists(fs, export.StoragePath)
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeTrue())
	})

	It("records no_data for an empty window and writes no file", func() {
		emptyStart := end.Add(30 * 24 * time.Hour)
		export, err := store.ExportToParquet(ctx, featurestore.ExportRequest{
			TenantID:   "tenant-a",
			FeatureSet: featurestore.SetForecastBasic,
			StartTime:  emptyStart,
			EndTime:    emptyStart.Add(24 * time.Hour),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(export.Status).To(Equal(featurestore.ExportStatusNoData))
		Expect(export.RowCount).To(BeZero())
		Expect(export.FileSizeBytes).To(BeZero())
		Expect(export.StoragePath).To(BeEmpty())
	})

	It("lists both export records", func() {
		exports, err := store.ListExports(ctx, "tenant-a", "", "", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(exports).To(HaveLen(2))
	})
})
