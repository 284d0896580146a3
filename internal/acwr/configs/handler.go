package configs

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/middleware"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/tracing"
	"github.com/robkhoughton/trainingmonkey/pkg"
)

//go:generate mockgen -source=$GOFILE -destination=handler_mocks_test.go -package=configs_test

type configService interface {
	Create(ctx context.Context, c NewConfiguration) (*Configuration, error)
	Get(ctx context.Context, id int64) (*Configuration, error)
	List(ctx context.Context, includeInactive bool) ([]Configuration, error)
	Deactivate(ctx context.Context, id int64) error
	SetDefault(ctx context.Context, id int64) error
	GetActiveConfiguration(ctx context.Context, userID int64) (*Configuration, error)
	Assign(ctx context.Context, userID, configurationID int64, assignedBy, reason string) (*Assignment, error)
	AssignmentHistory(ctx context.Context, userID int64) ([]Assignment, error)
}

type AssignRequest struct {
	ConfigurationID int64  `json:"configurationId"`
	Reason          string `json:"reason"`
}

type ListResponse struct {
	Configurations []Configuration `json:"configurations"`
}

type HistoryResponse struct {
	UserID      int64        `json:"userId"`
	Assignments []Assignment `json:"assignments"`
}

type Handler struct {
	service configService
}

func NewHandler(service configService) *Handler {
	return &Handler{
		service: service,
	}
}

func (handler *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/acwr/configurations", handler.HandleCreate).Methods("POST", "OPTIONS").Name("create-configuration")
	router.HandleFunc("/acwr/configurations", handler.HandleList).Methods("GET", "OPTIONS").Name("list-configurations")
	router.HandleFunc("/acwr/configurations/{id:[0-9]+}", handler.HandleGet).Methods("GET", "OPTIONS").Name("get-configuration")
	router.HandleFunc("/acwr/configurations/{id:[0-9]+}", handler.HandleDeactivate).Methods("DELETE", "OPTIONS").Name("deactivate-configuration")
	router.HandleFunc("/acwr/configurations/{id:[0-9]+}/default", handler.HandleSetDefault).Methods("POST", "OPTIONS").Name("default-configuration")
	router.HandleFunc("/acwr/users/{userId:[0-9]+}/configuration", handler.HandleAssign).Methods("POST", "OPTIONS").Name("assign-configuration")
	router.HandleFunc("/acwr/users/{userId:[0-9]+}/configuration", handler.HandleActive).Methods("GET", "OPTIONS").Name("active-configuration")
	router.HandleFunc("/acwr/users/{userId:[0-9]+}/configuration/history", handler.HandleHistory).Methods("GET", "OPTIONS").Name("configuration-history")
}

func (handler *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.configs.create")
	defer span.End()

	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return
	}

	var newConfig NewConfiguration
	if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
		log.Tracef("new configuration, unmarshal json params: %s", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	newConfig.CreatedBy = operator(ctx)

	created, err := handler.service.Create(ctx, newConfig)
	if err != nil {
		acwrerr.WriteHTTP(w, "create configuration", err)
		return
	}

	pkg.WriteJSON(w, created, http.StatusCreated)
}

func (handler *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.configs.list")
	defer span.End()

	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	list, err := handler.service.List(ctx, includeInactive)
	if err != nil {
		acwrerr.WriteHTTP(w, "list configurations", err)
		return
	}
	if list == nil {
		list = []Configuration{}
	}

	pkg.WriteJSON(w, ListResponse{Configurations: list}, http.StatusOK)
}

func (handler *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.configs.get")
	defer span.End()

	id, ok := PathID(w, r, "id")
	if !ok {
		return
	}

	c, err := handler.service.Get(ctx, id)
	if err != nil {
		acwrerr.WriteHTTP(w, "get configuration", err)
		return
	}

	pkg.WriteJSON(w, c, http.StatusOK)
}

func (handler *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.configs.deactivate")
	defer span.End()

	id, ok := PathID(w, r, "id")
	if !ok {
		return
	}

	if err := handler.service.Deactivate(ctx, id); err != nil {
		acwrerr.WriteHTTP(w, "deactivate configuration", err)
		return
	}

	log.Infof("configuration %d deactivated by %s", id, operator(ctx))
	w.WriteHeader(http.StatusNoContent)
}

func (handler *Handler) HandleSetDefault(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.configs.setdefault")
	defer span.End()

	id, ok := PathID(w, r, "id")
	if !ok {
		return
	}

	if err := handler.service.SetDefault(ctx, id); err != nil {
		acwrerr.WriteHTTP(w, "set default configuration", err)
		return
	}

	c, err := handler.service.Get(ctx, id)
	if err != nil {
		acwrerr.WriteHTTP(w, "get configuration", err)
		return
	}
	pkg.WriteJSON(w, c, http.StatusOK)
}

func (handler *Handler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.configs.assign")
	defer span.End()

	userID, ok := PathID(w, r, "userId")
	if !ok {
		return
	}
	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Tracef("assign configuration, unmarshal json params: %s", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	assignment, err := handler.service.Assign(ctx, userID, req.ConfigurationID, operator(ctx), req.Reason)
	if err != nil {
		acwrerr.WriteHTTP(w, "assign configuration", err)
		return
	}

	pkg.WriteJSON(w, assignment, http.StatusCreated)
}

func (handler *Handler) HandleActive(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.configs.active")
	defer span.End()

	userID, ok := PathID(w, r, "userId")
	if !ok {
		return
	}

	c, err := handler.service.GetActiveConfiguration(ctx, userID)
	if err != nil {
		acwrerr.WriteHTTP(w, "active configuration", err)
		return
	}
	pkg.WriteJSON(w, c, http.StatusOK)
}

func (handler *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.configs.history")
	defer span.End()

	userID, ok := PathID(w, r, "userId")
	if !ok {
		return
	}

	history, err := handler.service.AssignmentHistory(ctx, userID)
	if err != nil {
		acwrerr.WriteHTTP(w, "assignment history", err)
		return
	}
	if history == nil {
		history = []Assignment{}
	}
	pkg.WriteJSON(w, HistoryResponse{UserID: userID, Assignments: history}, http.StatusOK)
}

// PathID parses a positive int64 mux variable, answering 400 when invalid.
func PathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := mux.Vars(r)[name]
	if raw == "" {
		http.Error(w, "error, "+name+" empty", http.StatusBadRequest)
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "error, "+name+" NaN", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func operator(ctx context.Context) string {
	if name := middleware.OperatorFromContext(ctx); name != "" {
		return name
	}
	return "unknown"
}
