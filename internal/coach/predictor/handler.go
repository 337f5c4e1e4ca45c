package predictor

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/2beens/fitcoach/internal/telemetry/metrics"
	"github.com/2beens/fitcoach/internal/telemetry/tracing"
	"github.com/2beens/fitcoach/internal/validation"
	"github.com/2beens/fitcoach/pkg"
)

var predictSchema = validation.MustCompile("predict_completion.json", `{
	"type": "object",
	"properties": {
		"energy_level": {"type": "number"},
		"missed_days": {"type": "integer"},
		"goal_progress": {"type": "number"},
		"availability": {"type": "integer"}
	}
}`)

// PredictRequest is the direct prediction body. Missing fields keep the defaults
// from NewPredictRequest.
type PredictRequest struct {
	EnergyLevel  float64 `json:"energy_level"`
	MissedDays   int     `json:"missed_days"`
	GoalProgress float64 `json:"goal_progress"`
	Availability int     `json:"availability"`
}

func NewPredictRequest() PredictRequest {
	return PredictRequest{
		EnergyLevel:  5,
		MissedDays:   0,
		GoalProgress: 0.5,
		Availability: 1,
	}
}

func (r PredictRequest) Inputs() Inputs {
	return Inputs{
		Energy:         r.EnergyLevel,
		SkippedDays:    r.MissedDays,
		CompletionRate: r.GoalProgress,
		Availability:   r.Availability,
	}
}

type Handler struct {
	scorer  Scorer
	metrics *metrics.Manager
}

func NewHandler(scorer Scorer, metricsManager *metrics.Manager) *Handler {
	return &Handler{
		scorer:  scorer,
		metrics: metricsManager,
	}
}

func (h *Handler) HandlePredictCompletion(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "handler.predictor.predict")
	defer span.End()

	req := NewPredictRequest()
	if err := predictSchema.Decode(r.Body, &req); err != nil {
		log.Errorf("predict completion, decode request: %s", err)
		var invalidErr *validation.InvalidInputError
		if errors.As(err, &invalidErr) {
			pkg.WriteJSONError(w, invalidErr.Error(), http.StatusBadRequest)
			return
		}
		pkg.WriteJSONError(w, "failed to read request", http.StatusInternalServerError)
		return
	}

	result := h.scorer.Predict(req.Inputs())
	h.metrics.CounterPredictions.WithLabelValues("direct", string(result.Prediction)).Inc()

	resultJson, err := json.Marshal(result)
	if err != nil {
		log.Errorf("marshal prediction: %s", err)
		pkg.WriteJSONError(w, "prediction failed", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, resultJson)
}
