package progress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/2beens/fitcoach/internal/telemetry/tracing"
	"github.com/2beens/fitcoach/internal/validation"
	"github.com/2beens/fitcoach/pkg"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=progress_test

type service interface {
	RecordFeedback(ctx context.Context, feedback Feedback) (Record, error)
	Status(ctx context.Context, userID string) (*Status, error)
	Overview(ctx context.Context, userID string) (*Overview, error)
}

var feedbackSchema = validation.MustCompile("feedback.json", `{
	"type": "object",
	"required": ["userId", "completed"],
	"properties": {
		"userId": {"type": "string", "minLength": 1},
		"completed": {"type": "boolean"},
		"energy": {"type": "string"},
		"reason": {"type": ["string", "null"]},
		"notes": {"type": ["string", "null"], "maxLength": 1000}
	}
}`)

type FeedbackRequest struct {
	UserID    string  `json:"userId"`
	Completed bool    `json:"completed"`
	Energy    string  `json:"energy"`
	Reason    *string `json:"reason"`
	Notes     *string `json:"notes"`
}

type FeedbackResponse struct {
	Status string `json:"status"`
}

type Handler struct {
	service service
}

func NewHandler(service service) *Handler {
	return &Handler{
		service: service,
	}
}

func (h *Handler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.progress.feedback")
	defer span.End()

	req := FeedbackRequest{Energy: string(EnergyMedium)}
	if err := feedbackSchema.Decode(r.Body, &req); err != nil {
		log.Errorf("feedback, decode request: %s", err)
		var invalidErr *validation.InvalidInputError
		if errors.As(err, &invalidErr) {
			pkg.WriteJSONError(w, invalidErr.Error(), http.StatusBadRequest)
			return
		}
		pkg.WriteJSONError(w, "failed to read request", http.StatusInternalServerError)
		return
	}

	feedback := Feedback{
		UserID:    req.UserID,
		Completed: req.Completed,
		Energy:    EnergyLevel(req.Energy),
	}
	if req.Reason != nil {
		feedback.Reason = *req.Reason
	}
	if req.Notes != nil {
		feedback.Notes = *req.Notes
	}

	if _, err := h.service.RecordFeedback(ctx, feedback); err != nil {
		log.Errorf("record feedback for %s: %s", req.UserID, err)
		if errors.Is(err, ErrMissingUserID) {
			pkg.WriteJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		pkg.WriteJSONError(w, "failed to record feedback", http.StatusInternalServerError)
		return
	}

	respJson, err := json.Marshal(FeedbackResponse{Status: "Feedback recorded"})
	if err != nil {
		log.Errorf("marshal feedback response: %s", err)
		pkg.WriteJSONError(w, "failed to record feedback", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, respJson)
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.progress.status")
	defer span.End()

	userID := mux.Vars(r)["userId"]
	if userID == "" {
		pkg.WriteJSONError(w, "user id empty", http.StatusBadRequest)
		return
	}

	status, err := h.service.Status(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			pkg.WriteJSONError(w, "User not found", http.StatusNotFound)
			return
		}
		log.Errorf("get status for %s: %s", userID, err)
		pkg.WriteJSONError(w, "failed to get status", http.StatusInternalServerError)
		return
	}

	statusJson, err := json.Marshal(status)
	if err != nil {
		log.Errorf("marshal status for %s: %s", userID, err)
		pkg.WriteJSONError(w, "failed to get status", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, statusJson)
}

func (h *Handler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.progress.overview")
	defer span.End()

	userID := mux.Vars(r)["userId"]
	if userID == "" {
		pkg.WriteJSONError(w, "user id empty", http.StatusBadRequest)
		return
	}

	overview, err := h.service.Overview(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			pkg.WriteJSONError(w, "User not found", http.StatusNotFound)
			return
		}
		log.Errorf("get progress overview for %s: %s", userID, err)
		pkg.WriteJSONError(w, "failed to get progress data", http.StatusInternalServerError)
		return
	}

	overviewJson, err := json.Marshal(overview)
	if err != nil {
		log.Errorf("marshal progress overview for %s: %s", userID, err)
		pkg.WriteJSONError(w, "failed to get progress data", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, overviewJson)
}
