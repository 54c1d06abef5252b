// StreamPulse - Real-time Event Distribution for Live Streaming Communities
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streampulse/streampulse

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/streampulse/streampulse/internal/cache"
	"github.com/streampulse/streampulse/internal/config"
	"github.com/streampulse/streampulse/internal/database"
	"github.com/streampulse/streampulse/internal/fanout"
	"github.com/streampulse/streampulse/internal/logging"
	"github.com/streampulse/streampulse/internal/middleware"
	"github.com/streampulse/streampulse/internal/models"
	"github.com/streampulse/streampulse/internal/pipeline"
	"github.com/streampulse/streampulse/internal/validation"
)

// Pinger is the database health probe surface.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler carries the dependencies the HTTP handlers operate on.
type Handler struct {
	cfg      *config.Config
	db       Pinger
	streams  *database.StreamStore
	cache    *cache.Store
	recorder *cache.Recorder
	ttl      *cache.TTLPolicy
	inval    *cache.Invalidator
	warmer   *cache.Warmer
	pipeline *pipeline.Pipeline
	registry *fanout.Registry

	started time.Time
}

// NewHandler wires a Handler from its dependencies.
func NewHandler(
	cfg *config.Config,
	db Pinger,
	streams *database.StreamStore,
	store *cache.Store,
	recorder *cache.Recorder,
	ttl *cache.TTLPolicy,
	inval *cache.Invalidator,
	warmer *cache.Warmer,
	pl *pipeline.Pipeline,
	registry *fanout.Registry,
) *Handler {
	return &Handler{
		cfg:      cfg,
		db:       db,
		streams:  streams,
		cache:    store,
		recorder: recorder,
		ttl:      ttl,
		inval:    inval,
		warmer:   warmer,
		pipeline: pl,
		registry: registry,
		started:  time.Now(),
	}
}

// sanitizeLogValue strips control characters so request-supplied strings
// cannot forge log lines.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// respondJSON sends an API envelope with proper headers.
func respondJSON(w http.ResponseWriter, r *http.Request, status int, response *models.APIResponse) {
	if response.Metadata.Timestamp.IsZero() {
		response.Metadata.Timestamp = time.Now().UTC()
	}
	if response.Metadata.RequestID == "" {
		response.Metadata.RequestID = middleware.GetRequestID(r.Context())
	}

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

// respondError sends an error envelope.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	if err != nil {
		logging.Error().
			Str("code", sanitizeLogValue(code)).
			Str("error", sanitizeLogValue(err.Error())).
			Msg("api error")
	}

	respondJSON(w, r, status, &models.APIResponse{
		Status: "error",
		Error:  &models.APIError{Code: code, Message: message},
	})
}

// decodeBody decodes a JSON request body into dst and validates it.
// Returns false after writing the error response when either step fails.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON", err)
		return false
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		apiErr := verr.ToAPIError()
		respondJSON(w, r, http.StatusBadRequest, &models.APIResponse{
			Status: "error",
			Error: &models.APIError{
				Code:    apiErr.Code,
				Message: apiErr.Message,
				Details: apiErr.Details,
			},
		})
		return false
	}
	return true
}
