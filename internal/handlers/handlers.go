package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danqzq/specmarket/internal/auth"
	"github.com/danqzq/specmarket/internal/cache"
	"github.com/danqzq/specmarket/internal/config"
	"github.com/danqzq/specmarket/internal/docstore"
	"github.com/danqzq/specmarket/internal/errs"
	"github.com/danqzq/specmarket/internal/markdown"
	"github.com/danqzq/specmarket/internal/middleware"
	"github.com/danqzq/specmarket/internal/models"
	"github.com/danqzq/specmarket/internal/repository"
	"github.com/danqzq/specmarket/internal/shortid"
)

// maxUploadSize bounds multipart uploads (1MB of markdown is already huge).
const maxUploadSize = 10 << 20

// maxPageSize caps listSpecs pageSize.
const maxPageSize = 50

// Handler holds dependencies for HTTP handlers
type Handler struct {
	repo    *repository.SpecRepository
	store   *docstore.Store
	auth    *auth.Service
	cache   cache.Cache
	cfg     *config.Config
	logger  *zap.Logger
	started time.Time
}

// NewHandler creates a new Handler instance
func NewHandler(
	repo *repository.SpecRepository,
	store *docstore.Store,
	authSvc *auth.Service,
	respCache cache.Cache,
	cfg *config.Config,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		repo:    repo,
		store:   store,
		auth:    authSvc,
		cache:   respCache,
		cfg:     cfg,
		logger:  logger,
		started: time.Now(),
	}
}

// respondJSON writes a JSON envelope response
func respondJSON(w http.ResponseWriter, status int, resp models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// respondError writes a JSON error envelope carrying the request trace id
func respondError(w http.ResponseWriter, r *http.Request, status, code int, message string) {
	respondJSON(w, status, models.Error(code, message, map[string]any{
		"traceId": middleware.TraceID(r),
	}))
}

func (h *Handler) isAdmin(r *http.Request) bool {
	return r.Header.Get("X-Admin-Token") == h.cfg.AdminToken
}

// canWrite reports whether the request may modify spec. A nil spec means a
// create, which any authenticated identity (or the admin token) may do.
func (h *Handler) canWrite(r *http.Request, spec *models.Spec) bool {
	if h.isAdmin(r) {
		return true
	}
	claims := auth.UserFrom(r.Context())
	if claims == nil {
		return false
	}
	if spec == nil {
		return true
	}
	return auth.CanEditSpec(claims, spec)
}

// serveCached replays a cached envelope, or runs build and caches its output.
func (h *Handler) serveCached(w http.ResponseWriter, r *http.Request, build func() models.APIResponse) {
	key := r.URL.RequestURI()
	if body, ok := h.cache.Get(r.Context(), key); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
		return
	}
	h.writeCached(w, r, key, build())
}

// writeCached stores the marshaled envelope under key and writes it out.
func (h *Handler) writeCached(w http.ResponseWriter, r *http.Request, key string, resp models.APIResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, models.CodeInternal, "Internal server error")
		return
	}
	h.cache.Set(r.Context(), key, body, h.cfg.CacheTTL)
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// ListSpecs handles GET /specmarket/v1/listSpecs
func (h *Handler) ListSpecs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := intParam(q.Get("page"), 1)
	pageSize := intParam(q.Get("pageSize"), 10)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var updatedSince *time.Time
	if raw := q.Get("updatedSince"); raw != "" {
		t, err := parseISOTime(raw)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, models.CodeInvalidArg, "updatedSince must be ISO format")
			return
		}
		updatedSince = &t
	} else if q.Get("filter") == "today" {
		midnight := time.Now().UTC().Truncate(24 * time.Hour)
		updatedSince = &midnight
	}

	key := r.URL.RequestURI()
	if body, ok := h.cache.Get(r.Context(), key); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
		return
	}
	paginated, err := h.repo.ListSpecs(repository.ListQuery{
		Page:         page,
		PageSize:     pageSize,
		Tag:          q.Get("tag"),
		Category:     q.Get("category"),
		Author:       q.Get("author"),
		Search:       q.Get("q"),
		Order:        q.Get("order"),
		UpdatedSince: updatedSince,
	})
	if err != nil {
		respondError(w, r, http.StatusBadRequest, models.CodeInvalidArg, err.Error())
		return
	}
	h.writeCached(w, r, key, models.Success(paginated))
}

// GetSpecDetail handles GET /specmarket/v1/getSpecDetail
func (h *Handler) GetSpecDetail(w http.ResponseWriter, r *http.Request) {
	spec, ok := h.lookupSpec(w, r)
	if !ok {
		return
	}

	detail := *spec
	detail.ContentHTML = markdown.Render(spec.ContentMd)
	detail.Toc = markdown.BuildTOC(spec.ContentMd)

	payload, err := json.Marshal(detail)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, models.CodeInternal, "Internal server error")
		return
	}
	etag := markdown.ComputeETag(payload)
	lastModified := detail.UpdatedAt.UTC().Format(http.TimeFormat)

	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", lastModified)
	if r.Header.Get("If-None-Match") == etag || r.Header.Get("If-Modified-Since") == lastModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	respondJSON(w, http.StatusOK, models.Success(detail))
}

// GetSpecRaw handles GET /specmarket/v1/getSpecRaw
func (h *Handler) GetSpecRaw(w http.ResponseWriter, r *http.Request) {
	spec, ok := h.lookupSpec(w, r)
	if !ok {
		return
	}
	etag := markdown.ComputeETag([]byte(spec.ContentMd))
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", spec.UpdatedAt.UTC().Format(http.TimeFormat))
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(spec.ContentMd))
}

// DownloadSpec handles GET /specmarket/v1/downloadSpec
func (h *Handler) DownloadSpec(w http.ResponseWriter, r *http.Request) {
	spec, ok := h.lookupSpec(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename="+spec.ShortID+".md")
	w.Write([]byte(spec.ContentMd))
}

// GetSpecVersion handles GET /specmarket/v1/getSpecVersion
func (h *Handler) GetSpecVersion(w http.ResponseWriter, r *http.Request) {
	shortID := r.URL.Query().Get("shortId")
	if shortID == "" {
		respondError(w, r, http.StatusBadRequest, models.CodeInvalidArg, "shortId is required")
		return
	}
	version, err := strconv.Atoi(r.URL.Query().Get("version"))
	if err != nil || version < 1 {
		respondError(w, r, http.StatusBadRequest, models.CodeInvalidArg, "version must be a positive integer")
		return
	}
	spec := h.repo.GetSpecVersion(r.Context(), shortID, version)
	if spec == nil {
		respondError(w, r, http.StatusNotFound, models.CodeNotFound, "Spec version not found")
		return
	}
	detail := *spec
	detail.ContentHTML = markdown.Render(spec.ContentMd)
	detail.Toc = markdown.BuildTOC(spec.ContentMd)
	respondJSON(w, http.StatusOK, models.Success(detail))
}

// GetSpecHistory handles GET /specmarket/v1/getSpecHistory
func (h *Handler) GetSpecHistory(w http.ResponseWriter, r *http.Request) {
	shortID := r.URL.Query().Get("shortId")
	if shortID == "" {
		respondError(w, r, http.StatusBadRequest, models.CodeInvalidArg, "shortId is required")
		return
	}
	history := h.repo.GetSpecHistory(r.Context(), shortID)
	if len(history) == 0 {
		respondError(w, r, http.StatusNotFound, models.CodeNotFound, "Spec not found")
		return
	}
	respondJSON(w, http.StatusOK, models.Success(map[string]any{"items": history}))
}

// ListCategories handles GET /specmarket/v1/listCategories
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, func() models.APIResponse {
		return models.Success(map[string]any{"items": h.repo.ListCategories()})
	})
}

// ListTags handles GET /specmarket/v1/listTags
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, func() models.APIResponse {
		return models.Success(map[string]any{"items": h.repo.ListTags()})
	})
}

// GetCategorySpecs handles GET /specmarket/v1/getCategorySpecs
func (h *Handler) GetCategorySpecs(w http.ResponseWriter, r *http.Request) {
	h.listBySlug(w, r, func(slug string) repository.ListQuery {
		return repository.ListQuery{Page: 1, PageSize: maxPageSize, Category: slug}
	})
}

// GetTagSpecs handles GET /specmarket/v1/getTagSpecs
func (h *Handler) GetTagSpecs(w http.ResponseWriter, r *http.Request) {
	h.listBySlug(w, r, func(slug string) repository.ListQuery {
		return repository.ListQuery{Page: 1, PageSize: maxPageSize, Tag: slug}
	})
}

func (h *Handler) listBySlug(w http.ResponseWriter, r *http.Request, query func(string) repository.ListQuery) {
	slug := r.URL.Query().Get("slug")
	if slug == "" {
		respondError(w, r, http.StatusBadRequest, models.CodeInvalidArg, "slug is required")
		return
	}
	paginated, err := h.repo.ListSpecs(query(slug))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, models.CodeInvalidArg, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, models.Success(paginated))
}

// uploadForm is the normalized input of an upload request.
type uploadForm struct {
	title    string
	summary  string
	category string
	tags     []string
	author   string
	slug     string
	shortID  string
	content  string
}

func parseUploadForm(r *http.Request) (*uploadForm, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			return nil, err
		}
	} else if err := r.ParseForm(); err != nil {
		return nil, err
	}

	form := &uploadForm{
		title:    strings.TrimSpace(r.FormValue("title")),
		summary:  strings.TrimSpace(r.FormValue("summary")),
		category: strings.TrimSpace(r.FormValue("category")),
		author:   strings.TrimSpace(r.FormValue("author")),
		slug:     strings.TrimSpace(r.FormValue("slug")),
		shortID:  strings.TrimSpace(r.FormValue("shortId")),
		content:  r.FormValue("content"),
	}
	for _, tag := range strings.Split(r.FormValue("tags"), ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			form.tags = append(form.tags, tag)
		}
	}
	if form.content == "" && r.MultipartForm != nil {
		if files := r.MultipartForm.File["file"]; len(files) > 0 {
			content, err := readUploadedFile(files[0])
			if err != nil {
				return nil, err
			}
			form.content = content
		}
	}
	if form.title == "" {
		form.title = "Untitled"
	}
	if form.category == "" {
		form.category = "uncategorized"
	}
	return form, nil
}

func readUploadedFile(header *multipart.FileHeader) (string, error) {
	f, err := header.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// UploadSpec handles POST /specmarket/v1/uploadSpec. A new spec starts at
// version 1 with a fresh short id; an upload against an existing spec is an
// update that carries createdAt and ownerId over and bumps the version.
func (h *Handler) UploadSpec(w http.ResponseWriter, r *http.Request) {
	form, err := parseUploadForm(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, models.CodeInvalidArg, "Invalid form payload")
		return
	}
	if strings.TrimSpace(form.content) == "" {
		respondError(w, r, http.StatusBadRequest, models.CodeInvalidArg, "Markdown content is required")
		return
	}

	claims := auth.UserFrom(r.Context())
	if form.author == "" && claims != nil {
		form.author = "@" + claims.Username
	}
	if form.author == "" {
		respondError(w, r, http.StatusBadRequest, models.CodeInvalidArg, "author is required")
		return
	}

	var existing *models.Spec
	if form.shortID != "" {
		existing = h.repo.GetSpec(form.shortID)
	} else if form.slug != "" {
		if existing = h.repo.GetSpec(shortid.Derive(form.slug)); existing != nil {
			form.shortID = existing.ShortID
		}
	}

	if !h.canWrite(r, existing) {
		respondError(w, r, http.StatusUnauthorized, models.CodeUnauthorized, "Unauthorized")
		return
	}

	now := time.Now().UTC()
	var (
		shortID   string
		specID    string
		ownerID   string
		version   int
		createdAt time.Time
	)
	if existing != nil {
		shortID = existing.ShortID
		specID = existing.ID
		ownerID = existing.OwnerID
		version = existing.Version + 1
		createdAt = existing.CreatedAt
	} else {
		shortID = form.shortID
		if !shortid.IsValid(shortID) {
			if form.slug != "" {
				shortID = shortid.Derive(form.slug)
			} else {
				shortID = shortid.Generate()
			}
		}
		for h.repo.GetSpec(shortID) != nil {
			shortID = shortid.Generate()
		}
		specID = "spec-" + shortID
		version = 1
		createdAt = now
	}
	// Ownership is claimed on the first authenticated write and never
	// reassigned afterwards.
	if ownerID == "" && claims != nil {
		ownerID = claims.Subject
	}

	h.persistSpec(w, r, specID, shortID, ownerID, version, createdAt, now, form)
}

// updatePayload is the JSON body of updateSpec.
type updatePayload struct {
	ShortID   string   `json:"shortId"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Category  string   `json:"category"`
	Tags      []string `json:"tags"`
	Author    string   `json:"author"`
	ContentMd string   `json:"contentMd"`
}

// UpdateSpec handles PUT /specmarket/v1/updateSpec
func (h *Handler) UpdateSpec(w http.ResponseWriter, r *http.Request) {
	var payload updatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, r, http.StatusBadRequest, models.CodeInvalidArg, "JSON body with spec fields is required")
		return
	}
	if payload.ShortID == "" || strings.TrimSpace(payload.ContentMd) == "" {
		respondError(w, r, http.StatusBadRequest, models.CodeInvalidArg, "shortId and contentMd are required")
		return
	}

	existing := h.repo.GetSpec(payload.ShortID)
	if existing == nil {
		respondError(w, r, http.StatusNotFound, models.CodeNotFound, "Spec not found")
		return
	}
	if !h.canWrite(r, existing) {
		respondError(w, r, http.StatusUnauthorized, models.CodeUnauthorized, "Unauthorized")
		return
	}

	form := &uploadForm{
		title:    payload.Title,
		summary:  payload.Summary,
		category: payload.Category,
		tags:     payload.Tags,
		author:   payload.Author,
		content:  payload.ContentMd,
	}
	if form.author == "" {
		form.author = existing.Author
	}
	h.persistSpec(w, r,
		existing.ID, existing.ShortID, existing.OwnerID,
		existing.Version+1, existing.CreatedAt, time.Now().UTC(), form)
}

// persistSpec writes the metadata and version documents, refreshes the read
// model and clears the response cache. The in-memory view is only touched
// after both store writes succeed.
func (h *Handler) persistSpec(
	w http.ResponseWriter, r *http.Request,
	specID, shortID, ownerID string,
	version int,
	createdAt, updatedAt time.Time,
	form *uploadForm,
) {
	tags := form.tags
	if tags == nil {
		tags = []string{}
	}
	metaDoc := docstore.Document{
		"id":        specID,
		"shortId":   shortID,
		"title":     form.title,
		"summary":   form.summary,
		"category":  form.category,
		"tags":      tags,
		"author":    form.author,
		"ownerId":   ownerID,
		"version":   version,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
	}
	verDoc := metaDoc.Clone()
	verDoc["contentMd"] = form.content

	ctx := r.Context()
	if err := h.store.Metadata.Upsert(ctx, shortID, metaDoc); err != nil {
		h.logger.Error("failed to persist spec metadata", zap.String("shortId", shortID), zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, models.CodeInternal, "Failed to persist spec")
		return
	}
	if err := h.store.Versions.Upsert(ctx, shortID, version, verDoc); err != nil {
		h.logger.Error("failed to persist spec version",
			zap.String("shortId", shortID), zap.Int("version", version), zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, models.CodeInternal, "Failed to persist spec")
		return
	}

	h.repo.RefreshFromDocuments(ctx, metaDoc, verDoc)
	h.cache.Clear(ctx)

	status := http.StatusCreated
	if version > 1 {
		status = http.StatusOK
	}
	respondJSON(w, status, models.Success(map[string]any{
		"id":        specID,
		"shortId":   shortID,
		"version":   version,
		"updatedAt": updatedAt,
	}))
}

// DeleteSpec handles DELETE /specmarket/v1/deleteSpec. Store deletion happens
// first; the read model is only updated once the store confirms.
func (h *Handler) DeleteSpec(w http.ResponseWriter, r *http.Request) {
	shortID := r.URL.Query().Get("shortId")
	if shortID == "" {
		respondError(w, r, http.StatusBadRequest, models.CodeInvalidArg, "shortId is required")
		return
	}
	spec := h.repo.GetSpec(shortID)
	if spec == nil {
		respondError(w, r, http.StatusNotFound, models.CodeNotFound, "Spec not found")
		return
	}
	if !h.canWrite(r, spec) {
		respondError(w, r, http.StatusUnauthorized, models.CodeUnauthorized, "Unauthorized")
		return
	}

	ctx := r.Context()
	if err := h.store.Versions.DeleteAll(ctx, shortID); err != nil {
		h.logger.Error("failed to delete spec versions", zap.String("shortId", shortID), zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, models.CodeInternal, "Failed to delete spec")
		return
	}
	if err := h.store.Metadata.Delete(ctx, shortID); err != nil {
		h.logger.Error("failed to delete spec metadata", zap.String("shortId", shortID), zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, models.CodeInternal, "Failed to delete spec")
		return
	}

	h.repo.DeleteSpec(shortID)
	h.cache.Clear(ctx)
	respondJSON(w, http.StatusOK, models.Success(map[string]any{"deleted": true}))
}

// credentials is the JSON body of register and login.
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register handles POST /specmarket/v1/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		respondError(w, r, http.StatusBadRequest, models.CodeInvalidArg, "Invalid request body")
		return
	}
	user, err := h.auth.Register(r.Context(), creds.Username, creds.Password)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrDuplicateUsername):
			respondError(w, r, http.StatusConflict, models.CodeInvalidArg, "Username already exists")
		case errors.Is(err, errs.ErrInvalidArgument):
			respondError(w, r, http.StatusBadRequest, models.CodeInvalidArg, err.Error())
		default:
			h.logger.Error("failed to register user", zap.Error(err))
			respondError(w, r, http.StatusInternalServerError, models.CodeInternal, "Internal server error")
		}
		return
	}
	h.issueSession(w, r, user, http.StatusCreated)
}

// Login handles POST /specmarket/v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		respondError(w, r, http.StatusBadRequest, models.CodeInvalidArg, "Invalid request body")
		return
	}
	user, err := h.auth.Login(r.Context(), creds.Username, creds.Password)
	if err != nil {
		respondError(w, r, http.StatusUnauthorized, models.CodeUnauthorized, "Invalid username or password")
		return
	}
	h.issueSession(w, r, user, http.StatusOK)
}

func (h *Handler) issueSession(w http.ResponseWriter, r *http.Request, user *models.User, status int) {
	token, err := h.auth.IssueToken(user)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, models.CodeInternal, "Internal server error")
		return
	}
	auth.SetSessionCookie(w, token)
	respondJSON(w, status, models.Success(map[string]any{"user": user}))
}

// Logout handles POST /specmarket/v1/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w)
	respondJSON(w, http.StatusOK, models.Success(nil))
}

// Me handles GET /specmarket/v1/auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.UserFrom(r.Context())
	if claims == nil {
		respondError(w, r, http.StatusUnauthorized, models.CodeUnauthorized, "Not logged in")
		return
	}
	user, err := h.auth.GetUser(r.Context(), claims.Subject)
	if err != nil {
		respondError(w, r, http.StatusUnauthorized, models.CodeUnauthorized, "Not logged in")
		return
	}
	respondJSON(w, http.StatusOK, models.Success(map[string]any{"user": user}))
}

// Healthz handles GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.Success(map[string]any{
		"ok":      true,
		"storage": h.store.Backend,
		"uptime":  time.Since(h.started).Seconds(),
	}))
}

// lookupSpec resolves the shortId query param into a spec, writing the error
// response itself when the param is missing or the spec is unknown.
func (h *Handler) lookupSpec(w http.ResponseWriter, r *http.Request) (*models.Spec, bool) {
	shortID := r.URL.Query().Get("shortId")
	if shortID == "" {
		respondError(w, r, http.StatusBadRequest, models.CodeInvalidArg, "shortId is required")
		return nil, false
	}
	spec := h.repo.GetSpec(shortID)
	if spec == nil {
		respondError(w, r, http.StatusNotFound, models.CodeNotFound, "Spec not found")
		return nil, false
	}
	return spec, true
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func parseISOTime(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unrecognized time format")
}
