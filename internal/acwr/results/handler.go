package results

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/configs"
	"github.com/robkhoughton/trainingmonkey/internal/middleware"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/metrics"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/tracing"
	"github.com/robkhoughton/trainingmonkey/pkg"
)

//go:generate mockgen -source=$GOFILE -destination=handler_mocks_test.go -package=results_test

type metricsService interface {
	CurrentMetrics(ctx context.Context, userID int64) (*DashboardMetrics, error)
	Calculate(ctx context.Context, userID int64, date time.Time) (*Result, error)
	History(ctx context.Context, userID int64, from, to time.Time) ([]Result, error)
	Preview(ctx context.Context, configurationID, userID int64, from, to time.Time) (*Preview, error)
}

type CalculateResponse struct {
	State   State   `json:"state"`
	Result  *Result `json:"result,omitempty"`
	Message string  `json:"message,omitempty"`
}

type HistoryResponse struct {
	UserID  int64    `json:"userId"`
	Results []Result `json:"results"`
}

type Handler struct {
	service metricsService
}

func NewHandler(service metricsService) *Handler {
	return &Handler{
		service: service,
	}
}

func (handler *Handler) SetupRoutes(
	router *mux.Router,
	rateLimiter middleware.RequestRateLimiter,
	previewAllowedPerMin int,
	metricsManager *metrics.Manager,
) {
	router.HandleFunc("/acwr/users/{userId:[0-9]+}/metrics", handler.HandleMetrics).Methods("GET", "OPTIONS").Name("user-metrics")
	router.HandleFunc("/acwr/users/{userId:[0-9]+}/calculate", handler.HandleCalculate).Methods("GET", "OPTIONS").Name("user-calculate")
	router.HandleFunc("/acwr/users/{userId:[0-9]+}/results", handler.HandleHistory).Methods("GET", "OPTIONS").Name("user-results")

	// previews recompute whole ranges, limit them
	previewRouter := router.Path("/acwr/configurations/{id:[0-9]+}/preview").Subrouter()
	previewRouter.Methods("GET", "OPTIONS").HandlerFunc(handler.HandlePreview).Name("preview-configuration")
	previewRouter.Use(middleware.RateLimit(rateLimiter, "acwr-preview", previewAllowedPerMin, metricsManager))
}

func (handler *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.results.metrics")
	defer span.End()

	userID, ok := configs.PathID(w, r, "userId")
	if !ok {
		return
	}

	dm, err := handler.service.CurrentMetrics(ctx, userID)
	if err != nil {
		acwrerr.WriteHTTP(w, "current metrics", err)
		return
	}

	pkg.WriteJSON(w, dm, http.StatusOK)
}

func (handler *Handler) HandleCalculate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.results.calculate")
	defer span.End()

	userID, ok := configs.PathID(w, r, "userId")
	if !ok {
		return
	}
	date, ok := queryDate(w, r, "date")
	if !ok {
		return
	}

	res, err := handler.service.Calculate(ctx, userID, date)
	if err != nil {
		if errors.Is(err, acwrerr.ErrInsufficientHistory) {
			pkg.WriteJSON(w, CalculateResponse{
				State:   StateBuildingHistory,
				Message: err.Error(),
			}, http.StatusOK)
			return
		}
		acwrerr.WriteHTTP(w, "calculate", err)
		return
	}

	pkg.WriteJSON(w, CalculateResponse{State: StateOK, Result: res}, http.StatusOK)
}

func (handler *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.results.history")
	defer span.End()

	userID, ok := configs.PathID(w, r, "userId")
	if !ok {
		return
	}
	from, ok := queryDate(w, r, "from")
	if !ok {
		return
	}
	to, ok := queryDate(w, r, "to")
	if !ok {
		return
	}

	list, err := handler.service.History(ctx, userID, from, to)
	if err != nil {
		acwrerr.WriteHTTP(w, "results history", err)
		return
	}
	if list == nil {
		list = []Result{}
	}
	pkg.WriteJSON(w, HistoryResponse{UserID: userID, Results: list}, http.StatusOK)
}

func (handler *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.results.preview")
	defer span.End()

	configurationID, ok := configs.PathID(w, r, "id")
	if !ok {
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "error, user_id NaN", http.StatusBadRequest)
		return
	}
	from, ok := queryDate(w, r, "from")
	if !ok {
		return
	}
	to, ok := queryDate(w, r, "to")
	if !ok {
		return
	}

	preview, err := handler.service.Preview(ctx, configurationID, userID, from, to)
	if err != nil {
		acwrerr.WriteHTTP(w, "preview configuration", err)
		return
	}

	pkg.WriteJSON(w, preview, http.StatusOK)
}

func queryDate(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		http.Error(w, "error, "+name+" empty", http.StatusBadRequest)
		return time.Time{}, false
	}
	date, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		http.Error(w, "error, "+name+" must be YYYY-MM-DD", http.StatusBadRequest)
		return time.Time{}, false
	}
	return date, true
}
