// Package models defines the domain entities and API payloads of the spec market.
package models

import "time"

// SpecMetadata holds the identity and ownership facts of a spec that survive
// across versions. Exactly one metadata record exists per short id.
type SpecMetadata struct {
	ID        string    `json:"id"`
	ShortID   string    `json:"shortId"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Category  string    `json:"category"`
	Tags      []string  `json:"tags"`
	Author    string    `json:"author"`
	OwnerID   string    `json:"ownerId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int       `json:"version"`
}

// SpecVersion is one immutable content snapshot. Version records are only
// ever appended, never mutated, and removed only with the whole spec.
type SpecVersion struct {
	ShortID   string    `json:"shortId"`
	Version   int       `json:"version"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Category  string    `json:"category"`
	Tags      []string  `json:"tags"`
	Author    string    `json:"author"`
	ContentMd string    `json:"contentMd"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Spec is the composed read view: metadata identity plus the content fields of
// the latest (or an explicitly requested) version. It is materialized on every
// read and never persisted as its own record.
type Spec struct {
	ID          string    `json:"id"`
	ShortID     string    `json:"shortId"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Category    string    `json:"category"`
	Tags        []string  `json:"tags"`
	Author      string    `json:"author"`
	OwnerID     string    `json:"ownerId,omitempty"`
	Version     int       `json:"version"`
	ContentMd   string    `json:"contentMd"`
	ContentHTML string    `json:"contentHtml,omitempty"`
	Toc         []TocItem `json:"toc,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SpecSummary is the listing shape of a spec, without the content body.
type SpecSummary struct {
	ID        string    `json:"id"`
	ShortID   string    `json:"shortId"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Category  string    `json:"category"`
	Tags      []string  `json:"tags"`
	Author    string    `json:"author"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary returns the listing shape of s.
func (s *Spec) Summarize() SpecSummary {
	return SpecSummary{
		ID:        s.ID,
		ShortID:   s.ShortID,
		Title:     s.Title,
		Summary:   s.Summary,
		Category:  s.Category,
		Tags:      s.Tags,
		Author:    s.Author,
		Version:   s.Version,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// VersionSummary is one entry of a spec's history listing.
type VersionSummary struct {
	ShortID   string    `json:"shortId"`
	Version   int       `json:"version"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Author    string    `json:"author"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PaginatedSpecs is the result of a list query: the pre-pagination total plus
// one page of summaries.
type PaginatedSpecs struct {
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
	Items    []SpecSummary `json:"items"`
}

// Facet is a category or tag with its occurrence count.
type Facet struct {
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Count int    `json:"count"`
}

// TocItem is one heading of a rendered document's table of contents.
type TocItem struct {
	Text  string `json:"text"`
	ID    string `json:"id"`
	Level int    `json:"level"`
}

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Business status codes carried in the API envelope.
const (
	CodeSuccess      = 0
	CodeInvalidArg   = 1001
	CodeUnauthorized = 1003
	CodeNotFound     = 1004
	CodeInternal     = 1500
)

// APIResponse is the envelope every JSON endpoint responds with.
type APIResponse struct {
	StatusCode int    `json:"status_code"`
	StatusMsg  string `json:"status_msg"`
	Data       any    `json:"data"`
}

// Success builds a success envelope around data.
func Success(data any) APIResponse {
	if data == nil {
		data = map[string]any{}
	}
	return APIResponse{StatusCode: CodeSuccess, StatusMsg: "success", Data: data}
}

// Error builds an error envelope with the given business code.
func Error(code int, msg string, data map[string]any) APIResponse {
	if data == nil {
		data = map[string]any{}
	}
	return APIResponse{StatusCode: code, StatusMsg: msg, Data: data}
}
