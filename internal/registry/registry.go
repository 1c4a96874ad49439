// Package registry is the versioned model repository. Every model version
// owns three sidecars in the object store: the artifact blob, a metadata
// document and an optional metrics document. Stage transitions are metadata
// rewrites; artifacts are immutable once written.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// Lifecycle stages of a model version.
const (
	StageStaging    = "staging"
	StageProduction = "production"
	StageArchived   = "archived"
)

// Sidecar file names under the version prefix.
const (
	artifactFile = "model.bin"
	metadataFile = "metadata.json"
	metricsFile  = "metrics.json"
)

// ValidStage reports whether s names a lifecycle stage.
func ValidStage(s string) bool {
	switch s {
	case StageStaging, StageProduction, StageArchived:
		return true
	}
	return false
}

// Gateway is the slice of the object store the registry depends on.
type Gateway interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix, delimiter string) (keys []string, commonPrefixes []string, err error)
	Copy(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, key string) error
}

// Metadata is the model version's metadata sidecar.
type Metadata struct {
	Tenant          string            `json:"tenant"`
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Stage           string            `json:"stage"`
	UploadedAt      time.Time         `json:"uploaded_at"`
	ModelSizeBytes  int64             `json:"model_size_bytes"`
	ModelTypeHint   string            `json:"model_type_hint,omitempty"`
	PromotedAt      *time.Time        `json:"promoted_at,omitempty"`
	PromotionReason string            `json:"promotion_reason,omitempty"`
	CopiedFrom      string            `json:"copied_from,omitempty"`
	CopiedAt        *time.Time        `json:"copied_at,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// ModelVersion is a registry entry: identity plus its sidecar documents.
type ModelVersion struct {
	ID       string             `json:"model_id"`
	Metadata Metadata           `json:"metadata"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

// ModelID renders the canonical tenant:name:version identifier.
func ModelID(tenant, name, version string) string {
	return fmt.Sprintf("%s:%s:%s", tenant, name, version)
}

// ParseModelID splits a tenant:name:version identifier.
func ParseModelID(id string) (tenant, name, version string, err error) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", errs.Validation("registry.ParseModelID", "malformed model id %q", id)
	}
	return parts[0], parts[1], parts[2], nil
}

func versionPrefix(tenant, name, version string) string {
	return fmt.Sprintf("%s/%s/%s/", tenant, name, version)
}

// Registry implements the model repository over an object store gateway.
type Registry struct {
	store  Gateway
	logger logging.Interface
}

// New creates a registry.
func New(store Gateway, logger logging.Interface) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{store: store, logger: logger}
}

// RegisterRequest uploads one new model version.
type RegisterRequest struct {
	Tenant        string
	Name          string
	Version       string
	Artifact      []byte
	Metrics       map[string]float64
	ModelTypeHint string
	Stage         string
	Extra         map[string]string
}

// Register writes the artifact and its sidecars. Versions are immutable:
// registering an existing (tenant, name, version) is a conflict.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*ModelVersion, error) {
	const op = "registry.Register"
	if req.Tenant == "" || req.Name == "" || req.Version == "" {
		return nil, errs.Validation(op, "tenant, name and version are required")
	}
	if len(req.Artifact) == 0 {
		return nil, errs.Validation(op, "artifact is empty")
	}
	stage := req.Stage
	if stage == "" {
		stage = StageStaging
	}
	if !ValidStage(stage) {
		return nil, errs.Validation(op, "unknown stage %q", stage)
	}

	prefix := versionPrefix(req.Tenant, req.Name, req.Version)
	if _, err := r.store.Get(ctx, prefix+metadataFile); err == nil {
		return nil, errs.Conflict(op, "model version %s already exists", ModelID(req.Tenant, req.Name, req.Version))
	} else if !errs.IsNotFound(err) {
		return nil, err
	}

	metadata := Metadata{
		Tenant:         req.Tenant,
		Name:           req.Name,
		Version:        req.Version,
		Stage:          stage,
		UploadedAt:     time.Now().UTC(),
		ModelSizeBytes: int64(len(req.Artifact)),
		ModelTypeHint:  req.ModelTypeHint,
		Extra:          req.Extra,
	}

	if err := r.store.Put(ctx, prefix+artifactFile, req.Artifact, "application/octet-stream"); err != nil {
		return nil, err
	}
	if err := r.putJSON(ctx, prefix+metadataFile, metadata); err != nil {
		return nil, err
	}
	if len(req.Metrics) > 0 {
		if err := r.putJSON(ctx, prefix+metricsFile, req.Metrics); err != nil {
			return nil, err
		}
	}

	r.logger.WithField("model_id", ModelID(req.Tenant, req.Name, req.Version)).
		WithField("stage", stage).
		WithField("size_bytes", metadata.ModelSizeBytes).
		Info("registered model version")

	return &ModelVersion{
		ID:       ModelID(req.Tenant, req.Name, req.Version),
		Metadata: metadata,
		Metrics:  req.Metrics,
	}, nil
}

// Get fetches one version. The metrics sidecar is optional; its absence
// yields an empty map, never an error.
func (r *Registry) Get(ctx context.Context, tenant, name, version string) (*ModelVersion, error) {
	metadata, err := r.getMetadata(ctx, tenant, name, version)
	if err != nil {
		return nil, err
	}

	metrics, err := r.getMetrics(ctx, tenant, name, version)
	if err != nil {
		return nil, err
	}

	return &ModelVersion{
		ID:       ModelID(tenant, name, version),
		Metadata: *metadata,
		Metrics:  metrics,
	}, nil
}

// GetArtifact fetches the raw model blob.
func (r *Registry) GetArtifact(ctx context.Context, tenant, name, version string) ([]byte, error) {
	return r.store.Get(ctx, versionPrefix(tenant, name, version)+artifactFile)
}

// ListVersions enumerates all versions of (tenant, name), newest upload
// first. Versions whose metadata cannot be read are skipped with a warning
// so one corrupt sidecar does not hide the rest.
func (r *Registry) ListVersions(ctx context.Context, tenant, name string) ([]*ModelVersion, error) {
	const op = "registry.ListVersions"
	if tenant == "" || name == "" {
		return nil, errs.Validation(op, "tenant and name are required")
	}

	prefix := fmt.Sprintf("%s/%s/", tenant, name)
	_, versionPrefixes, err := r.store.List(ctx, prefix, "/")
	if err != nil {
		return nil, err
	}

	versions := make([]*ModelVersion, 0, len(versionPrefixes))
	for _, vp := range versionPrefixes {
		version := strings.TrimSuffix(strings.TrimPrefix(vp, prefix), "/")
		mv, err := r.Get(ctx, tenant, name, version)
		if err != nil {
			r.logger.WithError(err).
				WithField("model_id", ModelID(tenant, name, version)).
				Warn("skipping unreadable model version")
			continue
		}
		versions = append(versions, mv)
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Metadata.UploadedAt.After(versions[j].Metadata.UploadedAt)
	})
	return versions, nil
}

// List enumerates versions across all of a tenant's models, optionally
// filtered by model name and stage.
func (r *Registry) List(ctx context.Context, tenant, name, stage string) ([]*ModelVersion, error) {
	const op = "registry.List"
	if tenant == "" {
		return nil, errs.Validation(op, "tenant is required")
	}
	if stage != "" && !ValidStage(stage) {
		return nil, errs.Validation(op, "unknown stage %q", stage)
	}

	names := []string{name}
	if name == "" {
		_, namePrefixes, err := r.store.List(ctx, tenant+"/", "/")
		if err != nil {
			return nil, err
		}
		names = names[:0]
		for _, np := range namePrefixes {
			names = append(names, strings.TrimSuffix(strings.TrimPrefix(np, tenant+"/"), "/"))
		}
	}

	var out []*ModelVersion
	for _, n := range names {
		versions, err := r.ListVersions(ctx, tenant, n)
		if err != nil {
			return nil, err
		}
		for _, mv := range versions {
			if stage != "" && mv.Metadata.Stage != stage {
				continue
			}
			out = append(out, mv)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata.UploadedAt.After(out[j].Metadata.UploadedAt)
	})
	return out, nil
}

// Promote rewrites the version's stage in its metadata sidecar. Promoting to
// production demotes any sibling production version to archived so at most
// one production version exists per (tenant, name).
func (r *Registry) Promote(ctx context.Context, tenant, name, version, targetStage, reason string) (*Metadata, error) {
	const op = "registry.Promote"
	if !ValidStage(targetStage) {
		return nil, errs.Validation(op, "unknown stage %q", targetStage)
	}

	metadata, err := r.getMetadata(ctx, tenant, name, version)
	if err != nil {
		return nil, err
	}

	if targetStage == StageProduction {
		if err := r.demoteSiblings(ctx, tenant, name, version); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	metadata.Stage = targetStage
	metadata.PromotedAt = &now
	metadata.PromotionReason = reason

	if err := r.putJSON(ctx, versionPrefix(tenant, name, version)+metadataFile, metadata); err != nil {
		return nil, err
	}

	r.logger.WithField("model_id", ModelID(tenant, name, version)).
		WithField("stage", targetStage).
		Info("promoted model version")
	return metadata, nil
}

// demoteSiblings archives any other version of (tenant, name) currently in
// production.
func (r *Registry) demoteSiblings(ctx context.Context, tenant, name, keepVersion string) error {
	versions, err := r.ListVersions(ctx, tenant, name)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, mv := range versions {
		if mv.Metadata.Version == keepVersion || mv.Metadata.Stage != StageProduction {
			continue
		}
		demoted := mv.Metadata
		demoted.Stage = StageArchived
		demoted.PromotedAt = &now
		demoted.PromotionReason = "superseded by " + keepVersion
		if err := r.putJSON(ctx, versionPrefix(tenant, name, demoted.Version)+metadataFile, demoted); err != nil {
			return err
		}
		r.logger.WithField("model_id", ModelID(tenant, name, demoted.Version)).
			Info("archived previous production version")
	}
	return nil
}

// Delete removes every key under the version prefix and returns the deleted
// keys. Deleting a production version requires force. Per-key failures are
// aggregated so a partial delete reports everything that went wrong.
func (r *Registry) Delete(ctx context.Context, tenant, name, version string, force bool) ([]string, error) {
	const op = "registry.Delete"

	metadata, err := r.getMetadata(ctx, tenant, name, version)
	if err != nil {
		return nil, err
	}
	if metadata.Stage == StageProduction && !force {
		return nil, errs.Precondition(op, "model %s is in production, use force to delete",
			ModelID(tenant, name, version))
	}

	keys, _, err := r.store.List(ctx, versionPrefix(tenant, name, version), "")
	if err != nil {
		return nil, err
	}

	var errCollector *multierror.Error
	deleted := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := r.store.Delete(ctx, key); err != nil {
			errCollector = multierror.Append(errCollector, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		deleted = append(deleted, key)
	}

	if err := errCollector.ErrorOrNil(); err != nil {
		return deleted, errs.Unavailable(op, err)
	}

	r.logger.WithField("model_id", ModelID(tenant, name, version)).
		WithField("deleted_keys", len(deleted)).
		Info("deleted model version")
	return deleted, nil
}

// Copy duplicates all sidecars of src under a new version, then rewrites the
// target's metadata derived from the source with version, copied_from and
// copied_at. The source version is left untouched.
func (r *Registry) Copy(ctx context.Context, tenant, name, srcVersion, dstVersion string) (*Metadata, error) {
	const op = "registry.Copy"
	if srcVersion == dstVersion {
		return nil, errs.Validation(op, "source and destination versions are equal")
	}

	// Source metadata drives the rewrite; read it before touching anything.
	srcMetadata, err := r.getMetadata(ctx, tenant, name, srcVersion)
	if err != nil {
		return nil, err
	}

	dstPrefix := versionPrefix(tenant, name, dstVersion)
	if _, err := r.store.Get(ctx, dstPrefix+metadataFile); err == nil {
		return nil, errs.Conflict(op, "model version %s already exists", ModelID(tenant, name, dstVersion))
	} else if !errs.IsNotFound(err) {
		return nil, err
	}

	srcPrefix := versionPrefix(tenant, name, srcVersion)
	keys, _, err := r.store.List(ctx, srcPrefix, "")
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		dstKey := dstPrefix + strings.TrimPrefix(key, srcPrefix)
		if err := r.store.Copy(ctx, key, dstKey); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	dstMetadata := *srcMetadata
	dstMetadata.Version = dstVersion
	dstMetadata.CopiedFrom = srcVersion
	dstMetadata.CopiedAt = &now

	if err := r.putJSON(ctx, dstPrefix+metadataFile, dstMetadata); err != nil {
		return nil, err
	}

	r.logger.WithField("model_id", ModelID(tenant, name, dstVersion)).
		WithField("copied_from", srcVersion).
		Info("copied model version")
	return &dstMetadata, nil
}

func (r *Registry) getMetadata(ctx context.Context, tenant, name, version string) (*Metadata, error) {
	raw, err := r.store.Get(ctx, versionPrefix(tenant, name, version)+metadataFile)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, errs.NotFound("registry.Get", "model %s", ModelID(tenant, name, version))
		}
		return nil, err
	}

	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, errs.Internal("registry.Get", fmt.Errorf("decoding metadata of %s: %w",
			ModelID(tenant, name, version), err))
	}
	return &metadata, nil
}

// getMetrics translates a missing metrics sidecar into an empty map so
// downstream aggregations degrade gracefully.
func (r *Registry) getMetrics(ctx context.Context, tenant, name, version string) (map[string]float64, error) {
	raw, err := r.store.Get(ctx, versionPrefix(tenant, name, version)+metricsFile)
	if err != nil {
		if errs.IsNotFound(err) {
			return map[string]float64{}, nil
		}
		return nil, err
	}

	var metrics map[string]float64
	if err := json.Unmarshal(raw, &metrics); err != nil {
		r.logger.WithError(err).
			WithField("model_id", ModelID(tenant, name, version)).
			Warn("discarding undecodable metrics sidecar")
		return map[string]float64{}, nil
	}
	return metrics, nil
}

func (r *Registry) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errs.Internal("registry.putJSON", err)
	}
	return r.store.Put(ctx, key, raw, "application/json")
}
