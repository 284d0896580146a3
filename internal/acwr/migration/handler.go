package migration

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/integrity"
	"github.com/robkhoughton/trainingmonkey/internal/middleware"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/tracing"
	"github.com/robkhoughton/trainingmonkey/pkg"
)

//go:generate mockgen -source=$GOFILE -destination=handler_mocks_test.go -package=migration_test

type migrationService interface {
	StartMigration(ctx context.Context, req Request) (*Migration, error)
	Get(ctx context.Context, id string) (*Migration, error)
	List(ctx context.Context, status Status) ([]Migration, error)
	Pause(ctx context.Context, id string) (*Migration, error)
	Resume(ctx context.Context, id string) (*Migration, error)
	Cancel(ctx context.Context, id string) (*Migration, error)
	Unfreeze(ctx context.Context, id, clearedBy string) (*Migration, error)
}

type StartRequestBody struct {
	UserID          int64           `json:"user_id"`
	All             bool            `json:"all"`
	ConfigurationID int64           `json:"configuration_id"`
	From            string          `json:"from"`
	To              string          `json:"to"`
	BatchSize       int             `json:"batch_size"`
	ValidationLevel integrity.Level `json:"validation_level"`
}

type ListResponse struct {
	Migrations []Migration `json:"migrations"`
}

type Handler struct {
	service migrationService
}

func NewHandler(service migrationService) *Handler {
	return &Handler{
		service: service,
	}
}

func (handler *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/acwr/migrations", handler.HandleStart).Methods("POST", "OPTIONS").Name("start-migration")
	router.HandleFunc("/acwr/migrations", handler.HandleList).Methods("GET", "OPTIONS").Name("list-migrations")
	router.HandleFunc("/acwr/migrations/{id}", handler.HandleGet).Methods("GET", "OPTIONS").Name("get-migration")
	router.HandleFunc("/acwr/migrations/{id}/{action:pause|resume|cancel|unfreeze}", handler.HandleAction).Methods("POST", "OPTIONS").Name("migration-action")
}

func operator(ctx context.Context) string {
	if name := middleware.OperatorFromContext(ctx); name != "" {
		return name
	}
	return "unknown"
}

func (handler *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.migration.start")
	defer span.End()

	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return
	}

	var body StartRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		log.Tracef("start migration, unmarshal json params: %s", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	from, err := time.Parse(time.DateOnly, body.From)
	if err != nil {
		http.Error(w, "invalid from date", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.DateOnly, body.To)
	if err != nil {
		http.Error(w, "invalid to date", http.StatusBadRequest)
		return
	}

	m, err := handler.service.StartMigration(ctx, Request{
		UserID:          body.UserID,
		All:             body.All,
		ConfigurationID: body.ConfigurationID,
		From:            from,
		To:              to,
		BatchSize:       body.BatchSize,
		ValidationLevel: body.ValidationLevel,
		StartedBy:       operator(ctx),
	})
	if err != nil {
		acwrerr.WriteHTTP(w, "start migration", err)
		return
	}

	pkg.WriteJSON(w, m, http.StatusAccepted)
}

func (handler *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.migration.list")
	defer span.End()

	var status Status
	if s := r.URL.Query().Get("status"); s != "" {
		parsed, err := ParseStatus(s)
		if err != nil {
			acwrerr.WriteHTTP(w, "list migrations", err)
			return
		}
		status = parsed
	}

	list, err := handler.service.List(ctx, status)
	if err != nil {
		acwrerr.WriteHTTP(w, "list migrations", err)
		return
	}
	if list == nil {
		list = []Migration{}
	}
	pkg.WriteJSON(w, ListResponse{Migrations: list}, http.StatusOK)
}

func (handler *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.migration.get")
	defer span.End()

	m, err := handler.service.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		acwrerr.WriteHTTP(w, "get migration", err)
		return
	}
	pkg.WriteJSON(w, m, http.StatusOK)
}

func (handler *Handler) HandleAction(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.migration.action")
	defer span.End()

	id := mux.Vars(r)["id"]
	action := mux.Vars(r)["action"]

	var m *Migration
	var err error
	switch action {
	case "pause":
		m, err = handler.service.Pause(ctx, id)
	case "resume":
		m, err = handler.service.Resume(ctx, id)
	case "cancel":
		m, err = handler.service.Cancel(ctx, id)
	case "unfreeze":
		m, err = handler.service.Unfreeze(ctx, id, operator(ctx))
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	if err != nil {
		acwrerr.WriteHTTP(w, action+" migration", err)
		return
	}

	log.Debugf("migration %s: %s by %s", id, action, operator(ctx))
	pkg.WriteJSON(w, m, http.StatusOK)
}
