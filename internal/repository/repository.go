// Package repository holds the in-memory read model of the spec market. It is
// warmed at startup from a static seed file merged with the document store and
// kept current by every write; reads never touch the store except for
// historical versions that are not cached.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danqzq/specmarket/internal/docstore"
	"github.com/danqzq/specmarket/internal/errs"
	"github.com/danqzq/specmarket/internal/markdown"
	"github.com/danqzq/specmarket/internal/models"
)

// SpecRepository is shared mutable state across all requests; every method
// takes the lock internally.
type SpecRepository struct {
	mu       sync.RWMutex
	specs    map[string]*models.Spec
	metadata map[string]*models.SpecMetadata

	store  *docstore.Store
	logger *zap.Logger
}

// New builds the repository: seed records are loaded first, then the store is
// merged on top, store winning by shortId. Both steps degrade gracefully —
// a missing seed file or unreachable store yields a smaller view, not a
// failed startup.
func New(ctx context.Context, seedPath string, store *docstore.Store, logger *zap.Logger) *SpecRepository {
	r := &SpecRepository{
		specs:    make(map[string]*models.Spec),
		metadata: make(map[string]*models.SpecMetadata),
		store:    store,
		logger:   logger,
	}
	r.loadSeed(seedPath)
	r.mergeStore(ctx)
	return r
}

// loadSeed reads the static seed collection of combined spec records and
// splits each into metadata plus a version snapshot.
func (r *SpecRepository) loadSeed(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("failed to read seed data", zap.String("path", path), zap.Error(err))
		}
		return
	}

	var records []docstore.Document
	if err := json.Unmarshal(raw, &records); err != nil {
		r.logger.Warn("failed to parse seed data", zap.String("path", path), zap.Error(err))
		return
	}

	loaded := 0
	for _, doc := range records {
		meta, err := normalizeMetadata(doc)
		if err != nil {
			r.logger.Warn("skipping malformed seed record", zap.Error(err))
			continue
		}
		ver, err := normalizeVersion(doc)
		if err != nil {
			r.logger.Warn("skipping malformed seed record", zap.String("shortId", meta.ShortID), zap.Error(err))
			continue
		}
		meta.Version = ver.Version
		spec := compose(meta, ver)
		r.metadata[meta.ShortID] = meta
		r.specs[meta.ShortID] = &spec
		loaded++
	}
	r.logger.Info("seed data loaded", zap.String("path", path), zap.Int("specs", loaded))
}

// mergeStore overlays live store content on the seeded view. Malformed
// metadata, missing version documents and malformed versions are each skipped
// with a warning — partial data availability beats total failure.
func (r *SpecRepository) mergeStore(ctx context.Context) {
	docs, err := r.store.Metadata.FindAll(ctx)
	if err != nil {
		r.logger.Warn("failed to list metadata from store, serving seed data only", zap.Error(err))
		return
	}

	merged := 0
	for _, doc := range docs {
		meta, err := normalizeMetadata(doc)
		if err != nil {
			r.logger.Warn("skipping malformed metadata document", zap.Error(err))
			continue
		}
		verDoc, err := r.store.Versions.FindLatest(ctx, meta.ShortID)
		if err != nil {
			r.logger.Warn("skipping metadata without a readable version",
				zap.String("shortId", meta.ShortID), zap.Error(err))
			continue
		}
		ver, err := normalizeVersion(verDoc)
		if err != nil {
			r.logger.Warn("skipping malformed version document",
				zap.String("shortId", meta.ShortID), zap.Error(err))
			continue
		}
		spec := compose(meta, ver)
		r.metadata[meta.ShortID] = meta
		r.specs[meta.ShortID] = &spec
		merged++
	}
	r.logger.Info("store content merged", zap.Int("specs", merged), zap.String("backend", r.store.Backend))
}

// ListQuery collects the filters of a list request.
type ListQuery struct {
	Page         int
	PageSize     int
	Tag          string
	Category     string
	Author       string
	Search       string
	Order        string
	UpdatedSince *time.Time
}

// normalizeAuthor strips a leading @ and lowercases for comparison, so
// "alice" matches authors stored as "alice" or "@alice".
func normalizeAuthor(a string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(a), "@"))
}

// ListSpecs filters, sorts and paginates the composed set. Pagination is
// 1-indexed; only updatedAt is a recognized sort key.
func (r *SpecRepository) ListSpecs(q ListQuery) (*models.PaginatedSpecs, error) {
	if q.Page < 1 || q.PageSize < 1 {
		return nil, fmt.Errorf("%w: page and pageSize must be positive", errs.ErrInvalidArgument)
	}
	if q.Order == "" {
		q.Order = "-updatedAt"
	}

	r.mu.RLock()
	items := make([]*models.Spec, 0, len(r.specs))
	for _, spec := range r.specs {
		items = append(items, spec)
	}
	r.mu.RUnlock()

	if q.Tag != "" {
		items = filterSpecs(items, func(s *models.Spec) bool {
			for _, tag := range s.Tags {
				if tag == q.Tag {
					return true
				}
			}
			return false
		})
	}
	if q.Category != "" {
		items = filterSpecs(items, func(s *models.Spec) bool {
			return s.Category == q.Category
		})
	}
	if q.Author != "" {
		author := normalizeAuthor(q.Author)
		items = filterSpecs(items, func(s *models.Spec) bool {
			return normalizeAuthor(s.Author) == author
		})
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		items = filterSpecs(items, func(s *models.Spec) bool {
			if strings.Contains(strings.ToLower(s.Title), needle) ||
				strings.Contains(strings.ToLower(s.Summary), needle) {
				return true
			}
			for _, tag := range s.Tags {
				if strings.Contains(strings.ToLower(tag), needle) {
					return true
				}
			}
			return false
		})
	}
	if q.UpdatedSince != nil {
		since := *q.UpdatedSince
		items = filterSpecs(items, func(s *models.Spec) bool {
			return !s.UpdatedAt.Before(since)
		})
	}

	desc := strings.HasPrefix(q.Order, "-")
	if strings.TrimPrefix(q.Order, "-") == "updatedAt" {
		sort.SliceStable(items, func(i, j int) bool {
			if desc {
				return items[i].UpdatedAt.After(items[j].UpdatedAt)
			}
			return items[i].UpdatedAt.Before(items[j].UpdatedAt)
		})
	}

	total := len(items)
	start := (q.Page - 1) * q.PageSize
	if start > total {
		start = total
	}
	end := start + q.PageSize
	if end > total {
		end = total
	}

	summaries := make([]models.SpecSummary, 0, end-start)
	for _, spec := range items[start:end] {
		summaries = append(summaries, spec.Summarize())
	}
	return &models.PaginatedSpecs{
		Total:    total,
		Page:     q.Page,
		PageSize: q.PageSize,
		Items:    summaries,
	}, nil
}

func filterSpecs(items []*models.Spec, keep func(*models.Spec) bool) []*models.Spec {
	out := items[:0:0]
	for _, s := range items {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

// GetSpec returns the latest composed spec, or nil when unknown.
func (r *SpecRepository) GetSpec(shortID string) *models.Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.specs[shortID]
}

// GetSpecVersion returns a specific version composed with the cached
// metadata. The latest version is answered from memory; older versions are
// looked up in the store.
func (r *SpecRepository) GetSpecVersion(ctx context.Context, shortID string, version int) *models.Spec {
	r.mu.RLock()
	spec := r.specs[shortID]
	meta := r.metadata[shortID]
	r.mu.RUnlock()

	if spec != nil && spec.Version == version {
		return spec
	}

	doc, err := r.store.Versions.Find(ctx, shortID, version)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			r.logger.Warn("failed to fetch spec version",
				zap.String("shortId", shortID), zap.Int("version", version), zap.Error(err))
		}
		return nil
	}
	ver, err := normalizeVersion(doc)
	if err != nil {
		r.logger.Warn("skipping malformed version document",
			zap.String("shortId", shortID), zap.Int("version", version), zap.Error(err))
		return nil
	}

	if meta == nil {
		if spec == nil {
			return nil
		}
		meta = metadataFromSpec(spec)
	}
	composed := compose(meta, ver)
	return &composed
}

// GetSpecHistory returns version summaries for a spec, newest first. The
// cached latest spec is merged in if the store has not caught up with it yet.
func (r *SpecRepository) GetSpecHistory(ctx context.Context, shortID string) []models.VersionSummary {
	docs, err := r.store.Versions.FindAll(ctx, shortID)
	if err != nil {
		r.logger.Warn("failed to list spec versions", zap.String("shortId", shortID), zap.Error(err))
	}

	byVersion := make(map[int]models.VersionSummary)
	for _, doc := range docs {
		ver, err := normalizeVersion(doc)
		if err != nil {
			r.logger.Warn("skipping malformed version document", zap.String("shortId", shortID), zap.Error(err))
			continue
		}
		byVersion[ver.Version] = models.VersionSummary{
			ShortID:   ver.ShortID,
			Version:   ver.Version,
			Title:     ver.Title,
			Summary:   ver.Summary,
			Author:    ver.Author,
			UpdatedAt: ver.UpdatedAt,
		}
	}

	r.mu.RLock()
	spec := r.specs[shortID]
	r.mu.RUnlock()
	if spec != nil {
		if _, ok := byVersion[spec.Version]; !ok {
			byVersion[spec.Version] = models.VersionSummary{
				ShortID:   spec.ShortID,
				Version:   spec.Version,
				Title:     spec.Title,
				Summary:   spec.Summary,
				Author:    spec.Author,
				UpdatedAt: spec.UpdatedAt,
			}
		}
	}

	if len(byVersion) == 0 {
		return nil
	}
	out := make([]models.VersionSummary, 0, len(byVersion))
	for _, summary := range byVersion {
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out
}

// ListCategories returns distinct categories with counts, sorted by name.
func (r *SpecRepository) ListCategories() []models.Facet {
	r.mu.RLock()
	counts := make(map[string]int)
	for _, spec := range r.specs {
		if spec.Category != "" {
			counts[spec.Category]++
		}
	}
	r.mu.RUnlock()
	return facets(counts)
}

// ListTags returns distinct tags with counts, sorted by name.
func (r *SpecRepository) ListTags() []models.Facet {
	r.mu.RLock()
	counts := make(map[string]int)
	for _, spec := range r.specs {
		for _, tag := range spec.Tags {
			counts[tag]++
		}
	}
	r.mu.RUnlock()
	return facets(counts)
}

func facets(counts map[string]int) []models.Facet {
	out := make([]models.Facet, 0, len(counts))
	for name, count := range counts {
		out = append(out, models.Facet{
			Name:  markdown.TitleCase(name),
			Slug:  markdown.Slugify(name),
			Count: count,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// RefreshFromDocuments normalizes the supplied documents and overwrites the
// in-memory entry for that shortId. When no version document is supplied the
// metadata document itself is tried as an inline version, then the store's
// latest. Malformed input leaves the view unchanged; errors never propagate
// past this boundary.
func (r *SpecRepository) RefreshFromDocuments(ctx context.Context, metaDoc, verDoc docstore.Document) {
	meta, err := normalizeMetadata(metaDoc)
	if err != nil {
		r.logger.Warn("refresh skipped: malformed metadata document", zap.Error(err))
		return
	}

	var ver *models.SpecVersion
	if verDoc != nil {
		if ver, err = normalizeVersion(verDoc); err != nil {
			r.logger.Warn("refresh skipped: malformed version document",
				zap.String("shortId", meta.ShortID), zap.Error(err))
			return
		}
	} else if inline, inlineErr := normalizeVersion(metaDoc); inlineErr == nil {
		ver = inline
	} else {
		latest, storeErr := r.store.Versions.FindLatest(ctx, meta.ShortID)
		if storeErr != nil {
			r.logger.Warn("refresh skipped: no version available",
				zap.String("shortId", meta.ShortID), zap.Error(storeErr))
			return
		}
		if ver, err = normalizeVersion(latest); err != nil {
			r.logger.Warn("refresh skipped: malformed stored version",
				zap.String("shortId", meta.ShortID), zap.Error(err))
			return
		}
	}

	meta.Version = ver.Version
	spec := compose(meta, ver)

	r.mu.Lock()
	r.metadata[meta.ShortID] = meta
	r.specs[meta.ShortID] = &spec
	r.mu.Unlock()
}

// DeleteSpec removes the in-memory entry and reports whether anything was
// removed. Store deletion is the caller's responsibility; the repository only
// keeps the read model consistent once deletion is confirmed.
func (r *SpecRepository) DeleteSpec(shortID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, hadSpec := r.specs[shortID]
	_, hadMeta := r.metadata[shortID]
	delete(r.specs, shortID)
	delete(r.metadata, shortID)
	return hadSpec || hadMeta
}
