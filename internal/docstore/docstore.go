// Package docstore provides collection-like storage for spec metadata, spec
// versions and user accounts. Two backends satisfy the same contract: a
// SurrealDB-backed remote store and an in-process fallback that is selected
// automatically when the remote probe fails at startup. The choice is made
// once for the process lifetime; later operation failures surface as
// errs.ErrStorageUnavailable without re-probing.
package docstore

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/danqzq/specmarket/internal/config"
)

// Document is the loosely-typed wire shape of a stored record. Nothing beyond
// the repository's normalization boundary should trust its contents.
type Document map[string]any

// Clone returns a shallow copy so callers cannot mutate stored state.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// stripRecordID clones d without its id field. Record identity belongs to the
// backend key (shortId, shortId+version, user id); both backends drop any id
// the caller supplied so their stored shapes stay identical.
func stripRecordID(d Document) Document {
	out := d.Clone()
	delete(out, "id")
	return out
}

// MetadataCollection stores one metadata document per short id.
type MetadataCollection interface {
	// Upsert inserts or fully replaces the document for shortID.
	Upsert(ctx context.Context, shortID string, doc Document) error
	FindAll(ctx context.Context) ([]Document, error)
	// Find returns errs.ErrNotFound when no document exists for shortID.
	Find(ctx context.Context, shortID string) (Document, error)
	Delete(ctx context.Context, shortID string) error
}

// VersionCollection stores immutable content snapshots keyed by
// (shortID, version).
type VersionCollection interface {
	Upsert(ctx context.Context, shortID string, version int, doc Document) error
	FindAll(ctx context.Context, shortID string) ([]Document, error)
	Find(ctx context.Context, shortID string, version int) (Document, error)
	// FindLatest returns the document with the highest version for shortID,
	// or errs.ErrNotFound when none exist.
	FindLatest(ctx context.Context, shortID string) (Document, error)
	// DeleteAll removes every version document for shortID.
	DeleteAll(ctx context.Context, shortID string) error
}

// UserCollection stores account documents with a unique username constraint.
type UserCollection interface {
	// Insert creates a new user document, assigning an id, and returns the
	// stored document. Returns errs.ErrDuplicateUsername when the username
	// is already taken.
	Insert(ctx context.Context, doc Document) (Document, error)
	FindByUsername(ctx context.Context, username string) (Document, error)
	FindByID(ctx context.Context, id string) (Document, error)
	// Touch advances the updatedAt timestamp of an existing user.
	Touch(ctx context.Context, id string) error
}

// Store bundles the three collections plus the name of the selected backend.
type Store struct {
	Metadata MetadataCollection
	Versions VersionCollection
	Users    UserCollection
	Backend  string
}

// probeTimeout bounds the single startup reachability check.
const probeTimeout = 2 * time.Second

// Connect probes the remote document database once and returns a store backed
// by it, or the in-memory fallback when the probe fails. This mirrors the
// availability-over-completeness stance of the whole service: a missing
// database degrades persistence, it does not prevent startup.
func Connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) *Store {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	remote, err := newSurrealStore(probeCtx, cfg)
	if err != nil {
		logger.Warn("document database unavailable, using in-memory fallback",
			zap.String("url", cfg.SurrealURL),
			zap.Error(err),
		)
		return NewMemoryStore()
	}
	logger.Info("connected to document database",
		zap.String("url", cfg.SurrealURL),
		zap.String("ns", cfg.SurrealNS),
		zap.String("db", cfg.SurrealDB),
	)
	return remote
}
