// internal/ledger/handler.go
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sampleledger/internal/logger"
)

type Handler struct {
	service     Service
	logger      *zap.Logger
	rateLimiter *rate.Limiter
}

// NewHandler wires the HTTP surface. limiter throttles mutating routes; nil disables it.
func NewHandler(service Service, log *zap.Logger, limiter *rate.Limiter) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{service: service, logger: log, rateLimiter: limiter}
}

// Routes mounts the ledger endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Use(middleware.RequestID, h.requestLogger)

	r.Get("/healthz", h.HandleHealth)
	r.Get("/events/{eventID}", h.HandleGetEvent)
	r.Get("/lines", h.HandleListLines)
	r.Get("/lines/{lineID}", h.HandleGetLine)
	r.Get("/lines/{lineID}/history", h.HandleHistory)
	r.Get("/summary", h.HandleSummary)

	r.Group(func(r chi.Router) {
		r.Use(h.throttle)
		r.Post("/events", h.HandleCreateEvent)
		r.Post("/lines/{lineID}/approve", h.HandleApprove)
		r.Post("/lines/{lineID}/reject", h.HandleReject)
		r.Post("/lines/{lineID}/returns", h.HandleReceive)
	})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqLog := h.logger.With(
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), reqLog)))
		reqLog.Debug("request served",
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (h *Handler) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "RateLimited", Message: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LineView is the response shape of a line: the stored attributes plus the derived
// return figures.
type LineView struct {
	Line
	ReturnedQuantity  int  `json:"returned_quantity"`
	RemainingQuantity int  `json:"remaining_quantity"`
	IsFullyReturned   bool `json:"is_fully_returned"`
}

func NewLineView(l *Line) LineView {
	return LineView{
		Line:              *l,
		ReturnedQuantity:  l.ReturnedQuantity(),
		RemainingQuantity: l.RemainingQuantity(),
		IsFullyReturned:   l.IsFullyReturned(),
	}
}

func newLineViews(lines []Line) []LineView {
	views := make([]LineView, 0, len(lines))
	for i := range lines {
		views = append(views, NewLineView(&lines[i]))
	}
	return views
}

type eventView struct {
	EventID      uuid.UUID    `json:"event_id"`
	FirstPickup  *time.Time   `json:"first_pickup,omitempty"`
	LastReturnBy *time.Time   `json:"last_return_by,omitempty"`
	Lines        []LineView   `json:"lines"`
	Summary      EventSummary `json:"summary"`
}

func newEventView(req *EventRequest) eventView {
	return eventView{
		EventID:      req.EventID,
		FirstPickup:  req.FirstPickup,
		LastReturnBy: req.LastReturnBy,
		Lines:        newLineViews(req.Lines),
		Summary:      req.Summary,
	}
}

type pageView struct {
	Items []LineView `json:"items"`
	Total int        `json:"total"`
	Page  int        `json:"page"`
	Limit int        `json:"limit"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type decisionRequest struct {
	Actor   string `json:"actor"`
	Comment string `json:"comment"`
}

type returnRequest struct {
	Actor    string `json:"actor"`
	Quantity int    `json:"quantity"`
	Comment  string `json:"comment"`
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) HandleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, badRequest("invalid request body: %v", err))
		return
	}
	if req.Requester == "" {
		writeError(w, r, badRequest("requester is required"))
		return
	}

	event, err := h.service.CreateEvent(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newEventView(event))
}

func (h *Handler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, r, badRequest("invalid event ID"))
		return
	}

	event, err := h.service.GetEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newEventView(event))
}

func (h *Handler) HandleListLines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status, err := ParseStatusFilter(q.Get("status"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	query := ListQuery{Status: status}
	if raw := q.Get("event_id"); raw != "" {
		if query.EventID, err = uuid.Parse(raw); err != nil {
			writeError(w, r, badRequest("invalid event_id"))
			return
		}
	}
	if query.Page, err = intParam(q.Get("page")); err != nil {
		writeError(w, r, badRequest("invalid page"))
		return
	}
	if query.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, r, badRequest("invalid limit"))
		return
	}

	page, err := h.service.ListLines(r.Context(), query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageView{
		Items: newLineViews(page.Items),
		Total: page.Total,
		Page:  page.Page,
		Limit: page.Limit,
	})
}

func (h *Handler) HandleGetLine(w http.ResponseWriter, r *http.Request) {
	lineID, ok := lineParam(w, r)
	if !ok {
		return
	}
	line, err := h.service.GetLine(r.Context(), lineID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewLineView(line))
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	lineID, ok := lineParam(w, r)
	if !ok {
		return
	}
	entries, err := h.service.History(r.Context(), lineID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	var eventID uuid.UUID
	if raw := r.URL.Query().Get("event_id"); raw != "" {
		var err error
		if eventID, err = uuid.Parse(raw); err != nil {
			writeError(w, r, badRequest("invalid event_id"))
			return
		}
	}
	summary, err := h.service.Summary(r.Context(), eventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, h.service.Approve)
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, h.service.Reject)
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, id uuid.UUID, actor, comment string) (*Line, error)) {
	lineID, ok := lineParam(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, badRequest("invalid request body: %v", err))
		return
	}
	if req.Actor == "" {
		writeError(w, r, badRequest("actor is required"))
		return
	}

	line, err := decide(r.Context(), lineID, req.Actor, req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewLineView(line))
}

func (h *Handler) HandleReceive(w http.ResponseWriter, r *http.Request) {
	lineID, ok := lineParam(w, r)
	if !ok {
		return
	}
	var req returnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, badRequest("invalid request body: %v", err))
		return
	}
	if req.Actor == "" {
		writeError(w, r, badRequest("actor is required"))
		return
	}

	line, err := h.service.Receive(r.Context(), lineID, req.Actor, req.Quantity, req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, NewLineView(line))
}

func lineParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "lineID"))
	if err != nil {
		writeError(w, r, badRequest("invalid line ID"))
		return uuid.Nil, false
	}
	return id, true
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return n, nil
}

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind string) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidTransition, KindConflict:
		return http.StatusConflict
	case KindOverReturn, KindInvalidQuantity:
		return http.StatusUnprocessableEntity
	case KindInvalidInput:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := KindOf(err)
	status := StatusFor(kind)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context(), nil).Error("request failed", zap.Error(err))
		message = "internal error"
	}
	writeJSON(w, status, errorBody{Error: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
