package integrity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/middleware"
	"github.com/robkhoughton/trainingmonkey/internal/telemetry/tracing"
	"github.com/robkhoughton/trainingmonkey/pkg"
)

//go:generate mockgen -source=$GOFILE -destination=handler_mocks_test.go -package=integrity_test

type rollbackService interface {
	Rollback(ctx context.Context, req RollbackRequest) (*RollbackRecord, error)
	Get(ctx context.Context, rollbackID string) (*RollbackRecord, error)
	List(ctx context.Context, migrationID string) ([]RollbackRecord, error)
	Audit(ctx context.Context, rollbackID string) ([]AuditEntry, error)
	Checkpoints(ctx context.Context, filter CheckpointFilter) ([]Checkpoint, error)
}

type RollbackRequestBody struct {
	Scope  Scope  `json:"scope"`
	Target int64  `json:"target"`
	Reason string `json:"reason"`
}

type RollbackResponse struct {
	Rollback *RollbackRecord `json:"rollback"`
	Error    string          `json:"error,omitempty"`
}

type AuditResponse struct {
	RollbackID string       `json:"rollbackId"`
	Entries    []AuditEntry `json:"entries"`
}

// CheckpointSummary leaves out the snapshot payload.
type CheckpointSummary struct {
	ID              string            `json:"checkpointId"`
	UserID          int64             `json:"userId"`
	BatchID         int               `json:"batchId"`
	ConfigurationID int64             `json:"configurationId"`
	CreatedAt       string            `json:"timestamp"`
	Rows            int               `json:"rows"`
	Keys            int               `json:"keys"`
	Checksum        string            `json:"checksum"`
	Validation      *ValidationResult `json:"validationResult,omitempty"`
}

type Handler struct {
	service rollbackService
}

func NewHandler(service rollbackService) *Handler {
	return &Handler{
		service: service,
	}
}

func (handler *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/acwr/migrations/{id}/rollback", handler.HandleRollback).Methods("POST", "OPTIONS").Name("rollback-migration")
	router.HandleFunc("/acwr/migrations/{id}/rollbacks", handler.HandleList).Methods("GET", "OPTIONS").Name("list-rollbacks")
	router.HandleFunc("/acwr/migrations/{id}/checkpoints", handler.HandleCheckpoints).Methods("GET", "OPTIONS").Name("list-checkpoints")
	router.HandleFunc("/acwr/rollbacks/{id}", handler.HandleGet).Methods("GET", "OPTIONS").Name("get-rollback")
	router.HandleFunc("/acwr/rollbacks/{id}/audit", handler.HandleAudit).Methods("GET", "OPTIONS").Name("rollback-audit")
}

func (handler *Handler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.integrity.rollback")
	defer span.End()

	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return
	}

	var body RollbackRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		log.Tracef("rollback, unmarshal json params: %s", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	initiatedBy := middleware.OperatorFromContext(ctx)
	if initiatedBy == "" {
		initiatedBy = "unknown"
	}

	record, err := handler.service.Rollback(ctx, RollbackRequest{
		MigrationID: mux.Vars(r)["id"],
		Scope:       body.Scope,
		Target:      body.Target,
		Reason:      body.Reason,
		InitiatedBy: initiatedBy,
	})
	if err != nil {
		if record == nil {
			acwrerr.WriteHTTP(w, "rollback", err)
			return
		}
		status := acwrerr.HTTPStatus(err)
		if errors.Is(err, acwrerr.ErrRollbackFailure) {
			log.Errorf("rollback %s: %s", record.ID, err)
		}
		// operators need the failure reason, the record is already persisted
		pkg.WriteJSON(w, RollbackResponse{Rollback: record, Error: err.Error()}, status)
		return
	}

	pkg.WriteJSON(w, RollbackResponse{Rollback: record}, http.StatusOK)
}

func (handler *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.integrity.get")
	defer span.End()

	record, err := handler.service.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		acwrerr.WriteHTTP(w, "get rollback", err)
		return
	}
	pkg.WriteJSON(w, record, http.StatusOK)
}

func (handler *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.integrity.list")
	defer span.End()

	list, err := handler.service.List(ctx, mux.Vars(r)["id"])
	if err != nil {
		acwrerr.WriteHTTP(w, "list rollbacks", err)
		return
	}
	if list == nil {
		list = []RollbackRecord{}
	}
	pkg.WriteJSON(w, list, http.StatusOK)
}

func (handler *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.integrity.audit")
	defer span.End()

	rollbackID := mux.Vars(r)["id"]
	entries, err := handler.service.Audit(ctx, rollbackID)
	if err != nil {
		acwrerr.WriteHTTP(w, "rollback audit", err)
		return
	}
	if entries == nil {
		entries = []AuditEntry{}
	}
	pkg.WriteJSON(w, AuditResponse{RollbackID: rollbackID, Entries: entries}, http.StatusOK)
}

func (handler *Handler) HandleCheckpoints(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.acwr.integrity.checkpoints")
	defer span.End()

	filter := CheckpointFilter{
		MigrationID:    mux.Vars(r)["id"],
		IncludeBackups: r.URL.Query().Get("include_backups") == "true",
	}
	for param, dst := range map[string]**int64{
		"user_id":          &filter.UserID,
		"configuration_id": &filter.ConfigurationID,
	} {
		raw := r.URL.Query().Get(param)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "error, "+param+" NaN", http.StatusBadRequest)
			return
		}
		*dst = &id
	}
	checkpoints, err := handler.service.Checkpoints(ctx, filter)
	if err != nil {
		acwrerr.WriteHTTP(w, "list checkpoints", err)
		return
	}

	summaries := make([]CheckpointSummary, 0, len(checkpoints))
	for _, cp := range checkpoints {
		summaries = append(summaries, CheckpointSummary{
			ID:              cp.ID,
			UserID:          cp.UserID,
			BatchID:         cp.BatchID,
			ConfigurationID: cp.ConfigurationID,
			CreatedAt:       cp.CreatedAt.Format("2006-01-02T15:04:05.000000Z07:00"),
			Rows:            len(cp.Snapshot),
			Keys:            len(cp.RollbackData.Keys),
			Checksum:        cp.Checksum,
			Validation:      cp.Validation,
		})
	}
	pkg.WriteJSON(w, summaries, http.StatusOK)
}
