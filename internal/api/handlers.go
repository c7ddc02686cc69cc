// Package api exposes the discovery pipeline over HTTP.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"geohunt/internal/model"
	"geohunt/internal/pipeline"
)

// DiscoveryService is the slice of the coordinator the handlers need.
type DiscoveryService interface {
	Discover(ctx context.Context, req *pipeline.DiscoverRequest) (*pipeline.DiscoveryResult, error)
	Replay(ctx context.Context, token string) (*pipeline.DiscoveryResult, error)
}

// Pinger reports backing-store liveness for the health endpoint.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds the HTTP handlers for the discovery API.
type Handler struct {
	service DiscoveryService
	pinger  Pinger
}

// NewHandler creates a Handler. pinger may be nil, in which case /health
// only reports process liveness.
func NewHandler(service DiscoveryService, pinger Pinger) *Handler {
	return &Handler{service: service, pinger: pinger}
}

type discoverRequest struct {
	IdempotencyToken string            `json:"idempotency_token"`
	TreasureID       string            `json:"treasure_id"`
	HunterID         string            `json:"hunter_id"`
	Payload          string            `json:"payload"`
	Source           string            `json:"source"`
	Fix              model.LocationFix `json:"fix"`
}

type discoveryResponse struct {
	DiscoveryID  string           `json:"discovery_id"`
	TreasureID   string           `json:"treasure_id"`
	HunterID     string           `json:"hunter_id"`
	Status       string           `json:"status"`
	DiscoveredAt time.Time        `json:"discovered_at"`
	TxID         string           `json:"tx_id,omitempty"`
	NFTObjectID  string           `json:"nft_object_id,omitempty"`
	Profile      *profileResponse `json:"profile,omitempty"`
}

type profileResponse struct {
	HunterID            string `json:"hunter_id"`
	Rank                string `json:"rank"`
	TotalTreasuresFound int64  `json:"total_treasures_found"`
	TotalScore          int64  `json:"total_score"`
	CurrentStreak       int64  `json:"current_streak"`
	LongestStreak       int64  `json:"longest_streak"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

// SubmitDiscovery runs a discovery attempt end to end.
func (h *Handler) SubmitDiscovery(w http.ResponseWriter, r *http.Request) {
	var body discoverRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, errorBody{
			Kind: "bad_request", Reason: "malformed request body",
		})
		return
	}

	if body.IdempotencyToken == "" || body.TreasureID == "" || body.HunterID == "" {
		writeError(w, http.StatusBadRequest, errorBody{
			Kind: "bad_request", Reason: "idempotency_token, treasure_id and hunter_id are required",
		})
		return
	}

	payload, err := base64.StdEncoding.DecodeString(body.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{
			Kind: "bad_request", Reason: "payload must be base64-encoded",
		})
		return
	}

	source := model.ScanSource(body.Source)
	if source != model.SourceNFC && source != model.SourceQR {
		writeError(w, http.StatusBadRequest, errorBody{
			Kind: "bad_request", Reason: "source must be nfc or qr",
		})
		return
	}

	result, err := h.service.Discover(r.Context(), &pipeline.DiscoverRequest{
		IdempotencyToken: body.IdempotencyToken,
		TreasureID:       body.TreasureID,
		HunterID:         body.HunterID,
		Payload:          payload,
		Source:           source,
		Fix:              body.Fix,
	})
	if err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(result))
}

// GetDiscovery replays the recorded outcome for an idempotency token.
func (h *Handler) GetDiscovery(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	result, err := h.service.Replay(r.Context(), token)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(result))
}

// Health reports service and backing-store liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.pinger.HealthCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toResponse(result *pipeline.DiscoveryResult) *discoveryResponse {
	resp := &discoveryResponse{
		DiscoveryID:  result.Discovery.DiscoveryID,
		TreasureID:   result.Discovery.TreasureID,
		HunterID:     result.Discovery.HunterID,
		Status:       string(result.Discovery.Status),
		DiscoveredAt: result.Discovery.DiscoveredAt,
		TxID:         result.TxID,
		NFTObjectID:  result.NFTObjectID,
	}
	if result.Profile != nil {
		resp.Profile = &profileResponse{
			HunterID:            result.Profile.HunterID,
			Rank:                result.Profile.Rank.String(),
			TotalTreasuresFound: result.Profile.TotalTreasuresFound,
			TotalScore:          result.Profile.TotalScore,
			CurrentStreak:       result.Profile.CurrentStreak,
			LongestStreak:       result.Profile.LongestStreak,
		}
	}
	return resp
}

func writePipelineError(w http.ResponseWriter, err error) {
	var perr *pipeline.Error
	if !errors.As(err, &perr) {
		log.Error().Err(err).Msg("unclassified pipeline failure")
		writeError(w, http.StatusInternalServerError, errorBody{
			Kind: "internal", Reason: "internal error",
		})
		return
	}

	writeError(w, statusForKind(perr.Kind), errorBody{
		Kind:      string(perr.Kind),
		Reason:    perr.Reason,
		Retryable: perr.Retryable(),
	})
}

// statusForKind maps the pipeline error taxonomy onto HTTP status codes.
func statusForKind(kind pipeline.Kind) int {
	switch kind {
	case pipeline.KindDecode:
		return http.StatusUnprocessableEntity
	case pipeline.KindTooFar, pipeline.KindStaleFix, pipeline.KindLowAccuracy,
		pipeline.KindRankTooLow, pipeline.KindTreasureInactive:
		return http.StatusForbidden
	case pipeline.KindNotFound:
		return http.StatusNotFound
	case pipeline.KindAlreadyClaimed, pipeline.KindCommitConflict,
		pipeline.KindSettlementInProgress:
		return http.StatusConflict
	case pipeline.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case pipeline.KindLedgerTimeout:
		return http.StatusGatewayTimeout
	case pipeline.KindLedgerRejected:
		return http.StatusBadGateway
	case pipeline.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, errorResponse{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
