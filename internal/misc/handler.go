package misc

import (
	"encoding/json"
	"net/http"

	"github.com/2beens/fitcoach/internal/telemetry/tracing"
	"github.com/2beens/fitcoach/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const rootMessage = `{"message":"Backend running successfully"}`

type Handler struct {
	quotesManager *QuotesManager
	versionInfo   string
}

func NewHandler(quotesManager *QuotesManager, versionInfo string) *Handler {
	return &Handler{
		quotesManager: quotesManager,
		versionInfo:   versionInfo,
	}
}

func (handler *Handler) SetupRoutes(mainRouter *mux.Router) {
	mainRouter.HandleFunc("/", handler.handleRoot).Methods("GET", "OPTIONS").Name("root")
	mainRouter.HandleFunc("/quote/random", handler.handleGetRandomQuote).Methods("GET").Name("quote")
	mainRouter.HandleFunc("/version", handler.handleGetVersionInfo).Methods("GET").Name("version")
}

func (handler *Handler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteJSONResponseOK(w, rootMessage)
}

func (handler *Handler) handleGetRandomQuote(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "miscHandler.quote")
	defer span.End()

	q := handler.quotesManager.RandomQuote()
	if genre := r.URL.Query().Get("genre"); genre != "" {
		genreQuote, ok := handler.quotesManager.RandomQuoteOfGenre(genre)
		if !ok {
			pkg.WriteJSONError(w, "no quotes for genre "+genre, http.StatusNotFound)
			return
		}
		q = genreQuote
	}
	span.SetAttributes(attribute.String("quote.genre", q.Genre))

	qBytes, err := json.Marshal(q)
	if err != nil {
		log.Errorf("marshal quote error: %s", err)
		pkg.WriteJSONError(w, "internal error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, qBytes)
}

func (handler *Handler) handleGetVersionInfo(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, handler.versionInfo)
}
