package integration_tests

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/registry"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
)

var _ = Describe("Model registry lifecycle", Ordered, func() {
	const (
		tenant = "tenant-a"
		name   = "load-forecast"
	)

	var (
		ctx context.Context
		reg *registry.Registry
	)

	BeforeAll(func() {
		ctx = context.Background()
		reg = registry.New(newMemGateway(), nil)
	})

	It("registers two versions in staging", func() {
		for _, version := range []string{"v1", "v2"} {
			mv, err := reg.Register(ctx, registry.RegisterRequest{
				Tenant:   tenant,
				Name:     name,
				Version:  version,
				Artifact: []byte("model-bytes-" + version),
				Metrics:  map[string]float64{"mae": 3.2},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(mv.ID).To(Equal(registry.ModelID(tenant, name, version)))
			Expect(mv.Metadata.Stage).To(Equal(registry.StageStaging))
		}
	})

	It("promotes v2 to production", func() {
		metadata, err := reg.Promote(ctx, tenant, name, "v2", registry.StageProduction, "passed validation")
		Expect(err).NotTo(HaveOccurred())
		Expect(metadata.Stage).To(Equal(registry.StageProduction))
		Expect(metadata.PromotedAt).NotTo(BeNil())

		versions, err := reg.ListVersions(ctx, tenant, name)
		Expect(err).NotTo(HaveOccurred())
		Expect(versions).To(HaveLen(2))
		seen := 0
		for _, mv := range versions {
			if mv.Metadata.Version == "v2" {
				seen++
			}
		}
		Expect(seen).To(Equal(1))
	})

	It("archives the old production version when v1 takes over", func() {
		_, err := reg.Promote(ctx, tenant, name, "v1", registry.StageProduction, "rollback")
		Expect(err).NotTo(HaveOccurred())

		v2, err := reg.Get(ctx, tenant, name, "v2")
		Expect(err).NotTo(HaveOccurred())
		Expect(v2.Metadata.Stage).To(Equal(registry.StageArchived))

		production, err := reg.List(ctx, tenant, name, registry.StageProduction)
		Expect(err).NotTo(HaveOccurred())
		Expect(production).To(HaveLen(1))
		Expect(production[0].Metadata.Version).To(Equal("v1"))
	})

	It("refuses to delete the production version without force", func() {
		_, err := reg.Delete(ctx, tenant, name, "v1", false)
		Expect(errs.KindOf(err)).To(Equal(errs.KindPrecondition))
	})

	It("deletes the production version with force", func() {
		deleted, err := reg.Delete(ctx, tenant, name, "v1", true)
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).NotTo(BeEmpty())

		_, err = reg.Get(ctx, tenant, name, "v1")
		Expect(errs.KindOf(err)).To(Equal(errs.KindNotFound))
	})

	It("serves the surviving artifact bytes back unchanged", func() {
		artifact, err := reg.GetArtifact(ctx, tenant, name, "v2")
		Expect(err).NotTo(HaveOccurred())
		Expect(artifact).To(Equal([]byte("model-bytes-v2")))
	})
})
