// Package api exposes the headerlock control surface over HTTP. This is
// the UI boundary: a form frontend (or curl) submits profile documents
// here and the engine does the rest. Mutating endpoints require the
// configured bearer token and are rate limited.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/luckyPipewrench/headerlock/internal/engine"
	"github.com/luckyPipewrench/headerlock/internal/profile"
)

const (
	rateLimitWindow = time.Minute
	rateLimitMax    = 30
	maxBodyBytes    = 1 << 20 // profile documents are small; 1MB is generous
)

// Handler serves the profile API endpoints.
type Handler struct {
	eng   *engine.Engine
	token string // empty disables auth

	mu          sync.Mutex
	reqCount    int
	windowStart time.Time
}

// NewHandler creates an API handler over the engine.
func NewHandler(eng *engine.Engine, token string) *Handler {
	return &Handler{
		eng:         eng,
		token:       token,
		windowStart: time.Now(),
	}
}

// Register attaches the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/profile", h.handleProfile)
	mux.HandleFunc("/api/v1/profile/export", h.handleExport)
	mux.HandleFunc("/api/v1/profile/import", h.handleImport)
	mux.HandleFunc("/api/v1/rules", h.handleRules)
}

// handleProfile serves GET (current profile) and POST (save).
func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleExport(w, r)
	case http.MethodPost:
		h.handleSave(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSave validates and applies a strict profile document. Unlike
// import, unknown fields and malformed entries are errors here: the
// form frontend always submits the exact document shape.
func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	if !h.checkRateLimit() {
		w.Header().Set("Retry-After", "60")
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	var doc profile.Document
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if dec.More() {
		http.Error(w, "request body must contain exactly one JSON object", http.StatusBadRequest)
		return
	}

	p, err := h.eng.Save(r.Context(), doc.RawInput())
	if err != nil {
		h.writeSaveError(w, err)
		return
	}
	h.writeProfile(w, p)
}

// handleImport applies a document with tolerant parsing: malformed
// entries degrade field by field instead of failing the document.
func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorize(w, r) {
		return
	}
	if !h.checkRateLimit() {
		w.Header().Set("Retry-After", "60")
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("reading request body: %v", err), http.StatusBadRequest)
		return
	}

	p, err := h.eng.Import(r.Context(), body)
	if err != nil {
		h.writeSaveError(w, err)
		return
	}
	h.writeProfile(w, p)
}

// handleExport serves the current profile as an interchange document.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	doc, err := h.eng.Export()
	if err != nil {
		http.Error(w, fmt.Sprintf("loading profile: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

// handleRules serves the installed rule set.
func (h *Handler) handleRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	installed, err := h.eng.Installed(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("listing rules: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	resp := struct {
		Count int `json:"count"`
		Rules any `json:"rules"`
	}{Count: len(installed), Rules: installed}
	if installed == nil {
		resp.Rules = []struct{}{}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeProfile responds with the saved profile and its compiled rule
// count.
func (h *Handler) writeProfile(w http.ResponseWriter, p *profile.Profile) {
	w.Header().Set("Content-Type", "application/json")
	resp := struct {
		Enabled   bool                  `json:"enabled"`
		Headers   []profile.HeaderEntry `json:"headers"`
		Domains   []string              `json:"domains"`
		Mode      profile.MatchMode     `json:"domainMatchMode"`
		ExpiresAt string                `json:"expiresAt,omitempty"`
	}{
		Enabled: p.Enabled,
		Headers: p.Headers,
		Domains: p.Domains,
		Mode:    p.MatchMode,
	}
	if resp.Headers == nil {
		resp.Headers = []profile.HeaderEntry{}
	}
	if resp.Domains == nil {
		resp.Domains = []string{}
	}
	if !p.ExpiresAt.IsZero() {
		resp.ExpiresAt = p.ExpiresAt.UTC().Format(time.RFC3339)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeSaveError maps a validation error to 422 with its code and field
// so a form can highlight the offending input, and an unparseable
// document to 400; service failures map to 502 since the daemon itself
// is healthy but a backing call failed.
func (h *Handler) writeSaveError(w http.ResponseWriter, err error) {
	if errors.Is(err, profile.ErrBadDocument) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var verr *profile.ValidationError
	if errors.As(err, &verr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(struct {
			Code  profile.Code `json:"code"`
			Field string       `json:"field"`
			Value string       `json:"value,omitempty"`
		}{verr.Code, verr.Field, verr.Value})
		return
	}
	http.Error(w, err.Error(), http.StatusBadGateway)
}

// authorize enforces the bearer token on mutating endpoints. An empty
// configured token disables auth (loopback-only deployments).
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if h.token == "" {
		return true
	}
	token := extractBearerToken(r)
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
		w.Header().Set("WWW-Authenticate", `Bearer realm="headerlock"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// checkRateLimit implements a simple fixed-window rate limiter.
func (h *Handler) checkRateLimit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if now.Sub(h.windowStart) > rateLimitWindow {
		h.reqCount = 0
		h.windowStart = now
	}
	h.reqCount++
	return h.reqCount <= rateLimitMax
}

// extractBearerToken extracts the token from an Authorization: Bearer
// header.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
