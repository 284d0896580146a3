package loads

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/calc"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/metrics"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/tracing"
	"github.com/robkhoughton/trainingmonkey/pkg"
)

//go:generate mockgen -source=$GOFILE -destination=handler_mocks_test.go -package=loads_test

type samplesAdder interface {
	Add(ctx context.Context, samples []calc.LoadSample) (int, error)
}

// MaxSamplesPerRequest bounds a single ingestion call.
const MaxSamplesPerRequest = 5000

type AddSamplesRequest struct {
	Samples []calc.LoadSample `json:"samples"`
}

type AddSamplesResponse struct {
	Received int `json:"received"`
	Inserted int `json:"inserted"`
}

type Handler struct {
	store          samplesAdder
	metricsManager *metrics.Manager
	now            func() time.Time
}

func NewHandler(store samplesAdder, metricsManager *metrics.Manager, now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{
		store:          store,
		metricsManager: metricsManager,
		now:            now,
	}
}

func (h *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/acwr/loads", h.HandleAdd).Methods("POST", "OPTIONS").Name("add-load-samples")
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.loads.add")
	defer span.End()

	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return
	}

	var req AddSamplesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Tracef("add load samples, unmarshal json params: %s", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Samples) == 0 {
		http.Error(w, "no samples", http.StatusBadRequest)
		return
	}
	if len(req.Samples) > MaxSamplesPerRequest {
		http.Error(w, "too many samples", http.StatusBadRequest)
		return
	}

	today := Today(h.now())
	for i := range req.Samples {
		if err := ValidateSample(req.Samples[i], today); err != nil {
			http.Error(w, err.Error(), acwrerr.HTTPStatus(err))
			return
		}
		req.Samples[i].Date = calc.Day(req.Samples[i].Date)
	}

	inserted, err := h.store.Add(ctx, req.Samples)
	if err != nil {
		log.Errorf("add %d load samples: %s", len(req.Samples), err)
		http.Error(w, "failed to add load samples", http.StatusInternalServerError)
		return
	}

	if h.metricsManager != nil {
		h.metricsManager.CounterLoadSamples.Add(float64(inserted))
	}
	log.Debugf("load samples received: %d, inserted: %d", len(req.Samples), inserted)
	pkg.WriteJSON(w, AddSamplesResponse{
		Received: len(req.Samples),
		Inserted: inserted,
	}, http.StatusCreated)
}
