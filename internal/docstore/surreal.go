package docstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	surrealdb "github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/surrealdb/surrealdb.go/surrealcbor"

	"github.com/danqzq/specmarket/internal/config"
	"github.com/danqzq/specmarket/internal/errs"
)

const (
	tableMetadata = "spec_metadata"
	tableVersions = "spec_versions"
	tableUsers    = "users"
)

// newSurrealStore connects to SurrealDB and returns the remote-backed store.
// The surrealcbor codec is configured explicitly so time.Time round-trips as a
// native datetime instead of a string.
func newSurrealStore(ctx context.Context, cfg *config.Config) (*Store, error) {
	u, err := url.Parse(cfg.SurrealURL)
	if err != nil {
		return nil, fmt.Errorf("parse surrealdb url: %w", err)
	}

	conf := connection.NewConfig(u)
	codec := surrealcbor.New()
	conf.Marshaler = codec
	conf.Unmarshaler = codec

	db, err := surrealdb.FromConnection(ctx, gorillaws.New(conf))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if cfg.SurrealUser != "" {
		if _, err := db.SignIn(ctx, map[string]any{
			"user": cfg.SurrealUser,
			"pass": cfg.SurrealPass,
		}); err != nil {
			return nil, fmt.Errorf("signin: %w", err)
		}
	}
	if err := db.Use(ctx, cfg.SurrealNS, cfg.SurrealDB); err != nil {
		return nil, fmt.Errorf("use %s/%s: %w", cfg.SurrealNS, cfg.SurrealDB, err)
	}

	// The username uniqueness constraint lives in the database, matching the
	// contract's duplicate-signaling requirement. Defining an existing index
	// is a no-op, so this is safe on every startup.
	if _, err := surrealdb.Query[any](ctx, db,
		"DEFINE INDEX IF NOT EXISTS idx_users_username ON TABLE users COLUMNS username UNIQUE",
		nil,
	); err != nil {
		return nil, fmt.Errorf("define username index: %w", err)
	}

	return &Store{
		Metadata: &surrealMetadata{db: db},
		Versions: &surrealVersions{db: db},
		Users:    &surrealUsers{db: db},
		Backend:  "surrealdb",
	}, nil
}

// storageErr wraps a backend failure so callers can match it with errors.Is.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", errs.ErrStorageUnavailable, op, err)
}

// isNoResult reports whether err is the client's way of saying the record
// does not exist.
func isNoResult(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Expected a single or multiple results but got 0") ||
		strings.Contains(msg, "cannot unmarshal array into Go value")
}

// sanitize converts SurrealDB client types back into the plain shapes the
// normalization boundary expects and drops the record id field.
func sanitize(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if k == "id" {
			if _, ok := v.(models.RecordID); ok {
				continue
			}
		}
		switch t := v.(type) {
		case models.CustomDateTime:
			out[k] = t.Time
		case *models.CustomDateTime:
			if t != nil {
				out[k] = t.Time
			}
		default:
			out[k] = v
		}
	}
	return out
}

// sanitizeUser additionally maps the record id back onto the document's id
// field, since user identity is the record id itself.
func sanitizeUser(doc Document) Document {
	out := sanitize(doc)
	if rid, ok := doc["id"].(models.RecordID); ok {
		out["id"] = fmt.Sprint(rid.ID)
	}
	return out
}

func sanitizeAll(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		out = append(out, sanitize(doc))
	}
	return out
}

type surrealMetadata struct {
	db *surrealdb.DB
}

func (s *surrealMetadata) recordID(shortID string) models.RecordID {
	return models.NewRecordID(tableMetadata, shortID)
}

func (s *surrealMetadata) Upsert(ctx context.Context, shortID string, doc Document) error {
	if _, err := surrealdb.Upsert[Document](ctx, s.db, s.recordID(shortID), stripRecordID(doc)); err != nil {
		return storageErr("upsert metadata", err)
	}
	return nil
}

func (s *surrealMetadata) FindAll(ctx context.Context) ([]Document, error) {
	docs, err := surrealdb.Select[[]Document](ctx, s.db, tableMetadata)
	if err != nil {
		return nil, storageErr("list metadata", err)
	}
	if docs == nil {
		return nil, nil
	}
	return sanitizeAll(*docs), nil
}

func (s *surrealMetadata) Find(ctx context.Context, shortID string) (Document, error) {
	doc, err := surrealdb.Select[Document](ctx, s.db, s.recordID(shortID))
	if err != nil {
		if isNoResult(err) {
			return nil, errs.ErrNotFound
		}
		return nil, storageErr("find metadata", err)
	}
	if doc == nil || len(*doc) == 0 {
		return nil, errs.ErrNotFound
	}
	return sanitize(*doc), nil
}

func (s *surrealMetadata) Delete(ctx context.Context, shortID string) error {
	if _, err := surrealdb.Delete[Document](ctx, s.db, s.recordID(shortID)); err != nil {
		return storageErr("delete metadata", err)
	}
	return nil
}

type surrealVersions struct {
	db *surrealdb.DB
}

func (s *surrealVersions) recordID(shortID string, version int) models.RecordID {
	// Deterministic record id keeps version writes idempotent.
	return models.NewRecordID(tableVersions, shortID+"-"+strconv.Itoa(version))
}

func (s *surrealVersions) Upsert(ctx context.Context, shortID string, version int, doc Document) error {
	if _, err := surrealdb.Upsert[Document](ctx, s.db, s.recordID(shortID, version), stripRecordID(doc)); err != nil {
		return storageErr("upsert version", err)
	}
	return nil
}

func (s *surrealVersions) FindAll(ctx context.Context, shortID string) ([]Document, error) {
	res, err := surrealdb.Query[[]Document](ctx, s.db,
		"SELECT * FROM spec_versions WHERE shortId = $shortId",
		map[string]any{"shortId": shortID},
	)
	if err != nil {
		return nil, storageErr("list versions", err)
	}
	if res == nil || len(*res) == 0 {
		return nil, nil
	}
	return sanitizeAll((*res)[0].Result), nil
}

func (s *surrealVersions) Find(ctx context.Context, shortID string, version int) (Document, error) {
	doc, err := surrealdb.Select[Document](ctx, s.db, s.recordID(shortID, version))
	if err != nil {
		if isNoResult(err) {
			return nil, errs.ErrNotFound
		}
		return nil, storageErr("find version", err)
	}
	if doc == nil || len(*doc) == 0 {
		return nil, errs.ErrNotFound
	}
	return sanitize(*doc), nil
}

func (s *surrealVersions) FindLatest(ctx context.Context, shortID string) (Document, error) {
	res, err := surrealdb.Query[[]Document](ctx, s.db,
		"SELECT * FROM spec_versions WHERE shortId = $shortId ORDER BY version DESC LIMIT 1",
		map[string]any{"shortId": shortID},
	)
	if err != nil {
		return nil, storageErr("find latest version", err)
	}
	if res == nil || len(*res) == 0 || len((*res)[0].Result) == 0 {
		return nil, errs.ErrNotFound
	}
	return sanitize((*res)[0].Result[0]), nil
}

func (s *surrealVersions) DeleteAll(ctx context.Context, shortID string) error {
	if _, err := surrealdb.Query[any](ctx, s.db,
		"DELETE spec_versions WHERE shortId = $shortId",
		map[string]any{"shortId": shortID},
	); err != nil {
		return storageErr("delete versions", err)
	}
	return nil
}

type surrealUsers struct {
	db *surrealdb.DB
}

func (s *surrealUsers) Insert(ctx context.Context, doc Document) (Document, error) {
	stored := doc.Clone()
	id, _ := stored["id"].(string)
	if id == "" {
		id = uuid.New().String()
	}
	// The identifier lives in the record id, not the body.
	delete(stored, "id")
	created, err := surrealdb.Create[Document](ctx, s.db, models.NewRecordID(tableUsers, id), stored)
	if err != nil {
		if strings.Contains(err.Error(), "already contains") {
			return nil, errs.ErrDuplicateUsername
		}
		return nil, storageErr("insert user", err)
	}
	out := sanitizeUser(*created)
	out["id"] = id
	return out, nil
}

func (s *surrealUsers) FindByUsername(ctx context.Context, username string) (Document, error) {
	res, err := surrealdb.Query[[]Document](ctx, s.db,
		"SELECT * FROM users WHERE username = $username LIMIT 1",
		map[string]any{"username": username},
	)
	if err != nil {
		return nil, storageErr("find user", err)
	}
	if res == nil || len(*res) == 0 || len((*res)[0].Result) == 0 {
		return nil, errs.ErrNotFound
	}
	return sanitizeUser((*res)[0].Result[0]), nil
}

func (s *surrealUsers) FindByID(ctx context.Context, id string) (Document, error) {
	doc, err := surrealdb.Select[Document](ctx, s.db, models.NewRecordID(tableUsers, id))
	if err != nil {
		if isNoResult(err) {
			return nil, errs.ErrNotFound
		}
		return nil, storageErr("find user", err)
	}
	if doc == nil || len(*doc) == 0 {
		return nil, errs.ErrNotFound
	}
	return sanitizeUser(*doc), nil
}

func (s *surrealUsers) Touch(ctx context.Context, id string) error {
	if _, err := surrealdb.Query[any](ctx, s.db,
		"UPDATE $user SET updatedAt = $now",
		map[string]any{
			"user": models.NewRecordID(tableUsers, id),
			"now":  time.Now().UTC(),
		},
	); err != nil {
		return storageErr("touch user", err)
	}
	return nil
}
