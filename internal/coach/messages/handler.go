package messages

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/2beens/fitcoach/internal/telemetry/tracing"
	"github.com/2beens/fitcoach/internal/validation"
	"github.com/2beens/fitcoach/pkg"
)

var coachSchema = validation.MustCompile("coach_response.json", `{
	"type": "object",
	"properties": {
		"user_data": {
			"type": "object",
			"properties": {
				"energy_level": {"type": "number"},
				"workout_streak": {"type": "integer"},
				"missed_days": {"type": "integer"}
			}
		},
		"message": {"type": "string"}
	}
}`)

type CoachRequest struct {
	UserData UserData `json:"user_data"`
	Message  string   `json:"message"`
}

type CoachResponse struct {
	Message string `json:"message"`
}

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) HandleCoachResponse(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.messages.coach")
	defer span.End()

	req := CoachRequest{UserData: DefaultUserData()}
	if err := coachSchema.Decode(r.Body, &req); err != nil {
		log.Errorf("coach response, decode request: %s", err)
		var invalidErr *validation.InvalidInputError
		if errors.As(err, &invalidErr) {
			pkg.WriteJSONError(w, invalidErr.Error(), http.StatusBadRequest)
			return
		}
		pkg.WriteJSONError(w, "failed to read request", http.StatusInternalServerError)
		return
	}

	respJson, err := json.Marshal(CoachResponse{
		Message: Reply(req.UserData, req.Message),
	})
	if err != nil {
		log.Errorf("marshal coach response: %s", err)
		pkg.WriteJSONError(w, "failed to create coach response", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, respJson)
}
