package repository

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danqzq/specmarket/internal/docstore"
	"github.com/danqzq/specmarket/internal/errs"
	"github.com/danqzq/specmarket/internal/models"
	"github.com/danqzq/specmarket/internal/shortid"
)

// This file is the normalization boundary: every document read from the store
// or the seed file passes through here before anything else touches it, and
// comes out as a strictly-shaped SpecMetadata or SpecVersion.

func docString(doc docstore.Document, key string) string {
	if v, ok := doc[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// docInt tolerates the integer shapes JSON and CBOR decoders produce.
func docInt(doc docstore.Document, key string) (int, bool) {
	switch v := doc[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, true
		}
	}
	return 0, false
}

// docTime accepts time.Time and common ISO string layouts. Timestamps without
// timezone information are taken as UTC.
func docTime(doc docstore.Document, key string) (time.Time, bool) {
	switch v := doc[key].(type) {
	case time.Time:
		return v.UTC(), true
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02T15:04:05",
			"2006-01-02 15:04:05",
			"2006-01-02",
		} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// docTags coerces tags to a list of strings regardless of the stored shape:
// scalar becomes a single-element list, absent or null becomes empty.
func docTags(doc docstore.Document, key string) []string {
	switch v := doc[key].(type) {
	case nil:
		return []string{}
	case string:
		if v = strings.TrimSpace(v); v != "" {
			return []string{v}
		}
		return []string{}
	case []string:
		out := make([]string, 0, len(v))
		for _, tag := range v {
			if tag = strings.TrimSpace(tag); tag != "" {
				out = append(out, tag)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	}
	return []string{}
}

// resolveShortID returns the document's shortId, deriving one from a legacy
// slug when the stored value is missing or malformed.
func resolveShortID(doc docstore.Document) (string, error) {
	id := docString(doc, "shortId")
	if shortid.IsValid(id) {
		return id, nil
	}
	if slug := docString(doc, "slug"); slug != "" {
		return shortid.Derive(slug), nil
	}
	return "", fmt.Errorf("%w: missing or invalid shortId %q", errs.ErrMalformedDocument, id)
}

func normalizeMetadata(doc docstore.Document) (*models.SpecMetadata, error) {
	shortID, err := resolveShortID(doc)
	if err != nil {
		return nil, err
	}

	version, ok := docInt(doc, "version")
	if !ok || version < 1 {
		version = 1
	}

	createdAt, hasCreated := docTime(doc, "createdAt")
	updatedAt, hasUpdated := docTime(doc, "updatedAt")
	switch {
	case !hasCreated && hasUpdated:
		createdAt = updatedAt
	case hasCreated && !hasUpdated:
		updatedAt = createdAt
	case !hasCreated && !hasUpdated:
		now := time.Now().UTC()
		createdAt, updatedAt = now, now
	}

	id := docString(doc, "id")
	if id == "" {
		id = "spec-" + shortID
	}

	return &models.SpecMetadata{
		ID:        id,
		ShortID:   shortID,
		Title:     docString(doc, "title"),
		Summary:   docString(doc, "summary"),
		Category:  docString(doc, "category"),
		Tags:      docTags(doc, "tags"),
		Author:    docString(doc, "author"),
		OwnerID:   docString(doc, "ownerId"),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Version:   version,
	}, nil
}

func normalizeVersion(doc docstore.Document) (*models.SpecVersion, error) {
	shortID, err := resolveShortID(doc)
	if err != nil {
		return nil, err
	}

	content := docString(doc, "contentMd")
	if content == "" {
		return nil, fmt.Errorf("%w: empty contentMd for %s", errs.ErrMalformedDocument, shortID)
	}

	version, ok := docInt(doc, "version")
	if !ok || version < 1 {
		version = 1
	}

	createdAt, hasCreated := docTime(doc, "createdAt")
	updatedAt, hasUpdated := docTime(doc, "updatedAt")
	switch {
	case !hasCreated && hasUpdated:
		createdAt = updatedAt
	case hasCreated && !hasUpdated:
		updatedAt = createdAt
	case !hasCreated && !hasUpdated:
		now := time.Now().UTC()
		createdAt, updatedAt = now, now
	}

	return &models.SpecVersion{
		ShortID:   shortID,
		Version:   version,
		Title:     docString(doc, "title"),
		Summary:   docString(doc, "summary"),
		Category:  docString(doc, "category"),
		Tags:      docTags(doc, "tags"),
		Author:    docString(doc, "author"),
		ContentMd: content,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

// compose materializes the read view from metadata identity plus one
// version's content. The result is never persisted.
func compose(meta *models.SpecMetadata, ver *models.SpecVersion) models.Spec {
	return models.Spec{
		ID:        meta.ID,
		ShortID:   meta.ShortID,
		OwnerID:   meta.OwnerID,
		CreatedAt: meta.CreatedAt,
		Title:     ver.Title,
		Summary:   ver.Summary,
		Category:  ver.Category,
		Tags:      ver.Tags,
		Author:    ver.Author,
		Version:   ver.Version,
		ContentMd: ver.ContentMd,
		UpdatedAt: ver.UpdatedAt,
	}
}

// metadataFromSpec synthesizes a metadata record from a cached composed spec,
// used when the metadata map has no entry but the live view does.
func metadataFromSpec(s *models.Spec) *models.SpecMetadata {
	return &models.SpecMetadata{
		ID:        s.ID,
		ShortID:   s.ShortID,
		Title:     s.Title,
		Summary:   s.Summary,
		Category:  s.Category,
		Tags:      s.Tags,
		Author:    s.Author,
		OwnerID:   s.OwnerID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Version:   s.Version,
	}
}
