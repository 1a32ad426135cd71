// Package httpapi serves the diary persistence backend: one JSON document per
// owner, section and date, read with GET and merged one field at a time with
// POST.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/diarysync/internal/diary"
	"github.com/agentworkforce/diarysync/internal/diarystore"
	"github.com/rs/zerolog"
)

const (
	ScopeRead  = "diary:read"
	ScopeWrite = "diary:write"
)

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	Logger          *zerolog.Logger
}

type Server struct {
	store       diarystore.Store
	cfg         ServerConfig
	rateLimiter *rateLimiter
	logger      zerolog.Logger
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(store diarystore.Store) *Server {
	return NewServerWithConfig(store, ServerConfig{})
}

func NewServerWithConfig(store diarystore.Store, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Server{
		store:       store,
		cfg:         cfg,
		rateLimiter: limiter,
		logger:      logger.With().Str("component", "httpapi").Logger(),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) != 4 || parts[0] != "v1" || parts[1] != "diary" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	var requiredScope string
	switch r.Method {
	case http.MethodGet:
		requiredScope = ScopeRead
	case http.MethodPost:
		requiredScope = ScopeWrite
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", getCorrelationID(r))
		return
	}

	claims, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, requiredScope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
		return
	}
	if s.rateLimiter != nil {
		if !s.rateLimiter.allow(claims.Subject, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}

	section, err := diary.ParseSection(parts[2])
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
		return
	}
	if !section.Remote() {
		writeError(w, http.StatusNotFound, "not_found", "section is not stored by this backend", correlationID)
		return
	}
	date := parts[3]
	if !diary.ValidDate(date) {
		writeError(w, http.StatusBadRequest, "bad_request", "date must be YYYY-MM-DD", correlationID)
		return
	}
	key := diarystore.Key{Owner: claims.Subject, Section: string(section), Date: date}

	if r.Method == http.MethodGet {
		s.handleGetDocument(w, r, key, correlationID)
		return
	}
	s.handleWriteField(w, r, section, key, correlationID)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request, key diarystore.Key, correlationID string) {
	doc, err := s.store.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, diarystore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no document for "+key.Section+"/"+key.Date, correlationID)
			return
		}
		s.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("document read failed")
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeRawJSON(w, http.StatusOK, doc)
}

func (s *Server) handleWriteField(w http.ResponseWriter, r *http.Request, section diary.Section, key diarystore.Key, correlationID string) {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	doc, err := s.store.Update(r.Context(), key, func(stored []byte) ([]byte, error) {
		return diary.MergeWrite(section, key.Date, stored, body)
	})
	if err != nil {
		if errors.Is(err, diary.ErrInvalidDocument) {
			writeError(w, http.StatusBadRequest, "invalid_document", err.Error(), correlationID)
			return
		}
		s.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("document write failed")
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	s.logger.Debug().
		Str("owner", key.Owner).
		Str("section", key.Section).
		Str("date", key.Date).
		Str("correlation_id", correlationID).
		Msg("field merged")
	writeRawJSON(w, http.StatusOK, doc)
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeRawJSON(w http.ResponseWriter, status int, doc []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(doc)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
