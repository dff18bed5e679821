package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"VKMBot/logger"
	"VKMBot/pipeline"
	"VKMBot/quota"
	"VKMBot/retrieval"
)

// Pipeline is the part of the coordinator the transport drives.
type Pipeline interface {
	OnQuery(ctx context.Context, userID int64, text string) error
	OnSelect(ctx context.Context, userID int64, index int) error
	State(userID int64) pipeline.State
}

// QuotaReporter reads a user's quota.
type QuotaReporter interface {
	Status(ctx context.Context, userID int64) (*quota.Snapshot, error)
}

type searchRequest struct {
	Query string `json:"query"`
}

type selectRequest struct {
	Index *int `json:"index"`
}

// APIHandler serves the bot's HTTP and WebSocket endpoints.
type APIHandler struct {
	pipeline Pipeline
	quota    QuotaReporter
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewAPIHandler(p Pipeline, q QuotaReporter, hub *Hub) *APIHandler {
	return &APIHandler{
		pipeline: p,
		quota:    q,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SearchHandler runs a search. Candidates are pushed over the WebSocket.
func (h *APIHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.pipeline.OnQuery(r.Context(), userID, req.Query); err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state": h.pipeline.State(userID).String(),
	})
}

// SelectHandler downloads and delivers one candidate. It returns when the
// download has been delivered or has failed.
func (h *APIHandler) SelectHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
		writeError(w, http.StatusBadRequest, "index is required")
		return
	}
	if err := h.pipeline.OnSelect(r.Context(), userID, *req.Index); err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

func (h *APIHandler) QuotaHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	snap, err := h.quota.Status(r.Context(), userID)
	if err != nil {
		logger.Error("[Server] quota status failed",
			logger.Int64("userId", userID),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to read quota")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// WebSocketHandler upgrades the connection and accepts search and select
// commands on it.
func (h *APIHandler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("[Server] websocket upgrade failed", logger.ErrorField(err))
		return
	}

	client := h.hub.NewClient(conn, userID)
	h.hub.Register(client)

	// Work started from this connection is cancelled when it closes.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	go client.WritePump()
	go func() {
		defer cancel()
		client.ReadPump(ctx, h.handleMessage)
	}()
}

func (h *APIHandler) handleMessage(ctx context.Context, client *Client, msg *WSMessage) {
	switch msg.Type {
	case MsgTypeSearch:
		var req searchRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			client.trySend(MsgTypeError, map[string]string{"error": "invalid search payload"})
			return
		}
		go h.pipeline.OnQuery(ctx, client.UserID, req.Query)

	case MsgTypeSelect:
		var req selectRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.Index == nil {
			client.trySend(MsgTypeError, map[string]string{"error": "index is required"})
			return
		}
		go h.pipeline.OnSelect(ctx, client.UserID, *req.Index)

	default:
		client.trySend(MsgTypeError, map[string]string{"error": "unknown message type " + string(msg.Type)})
	}
}

func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps a pipeline error to an HTTP status and a short kind.
func statusFor(err error) (int, string) {
	var qe *pipeline.QuotaExceededError
	switch {
	case errors.As(err, &qe):
		return http.StatusTooManyRequests, "quota_exceeded"
	case errors.Is(err, pipeline.ErrInvalidQuery):
		return http.StatusBadRequest, "invalid_query"
	case errors.Is(err, pipeline.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, pipeline.ErrExpiredSelection):
		return http.StatusGone, "expired"
	case errors.Is(err, retrieval.ErrNotFound):
		return http.StatusNotFound, "track_unavailable"
	case errors.Is(err, pipeline.ErrSearchFailure):
		return http.StatusBadGateway, "search_failed"
	case errors.Is(err, pipeline.ErrDeliveryFailure):
		return http.StatusBadGateway, "delivery_failed"
	case errors.Is(err, retrieval.ErrProviderFailure), errors.Is(err, retrieval.ErrIOFailure):
		return http.StatusBadGateway, "download_failed"
	case errors.Is(err, context.Canceled):
		return 499, "cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writePipelineError(w http.ResponseWriter, err error) {
	code, kind := statusFor(err)
	body := map[string]interface{}{"error": err.Error(), "kind": kind}

	var qe *pipeline.QuotaExceededError
	if errors.As(err, &qe) {
		secs := int(qe.RetryAfter.Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		body["limit"] = qe.Limit
		body["retryAfterSeconds"] = secs
	}
	if code >= http.StatusInternalServerError {
		logger.Warn("[Server] request failed", logger.Int("status", code), logger.ErrorField(err))
	}
	writeJSON(w, code, body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("[Server] failed to encode response", logger.ErrorField(err))
	}
}
