package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"

	"github.com/coordinatord/flowcore/services/core"
)

// maxRequestBody limits the size of the execution-trigger request body.
const maxRequestBody = 1 << 20 // 1MB

// startRequest is the body POST /workflows/{id}/executions accepts.
// Inputs becomes the trigger's HTTPRequest payload; the engine is
// agnostic to its shape and forwards it unchanged to every node's
// InvocationContext.Trigger. It is not wired into any input port.
type startRequest struct {
	OrganizationID string         `json:"organizationId"`
	UserID         string         `json:"userId"`
	DeploymentID   string         `json:"deploymentId"`
	CallerPlan     string         `json:"callerPlan"`
	Inputs         map[string]any `json:"inputs"`
}

type startResponse struct {
	ExecutionID string `json:"executionId"`
	Status      string `json:"status"`
}

// HandleGetWorkflow returns a workflow's graph definition.
func (s *Service) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	id := mux.Vars(r)["id"]

	wf, err := s.Workflows.GetWorkflow(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeErrorJSON(w, "NOT_FOUND", "workflow not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to get workflow", "id", id, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, wf)
}

// HandleStartExecution loads the workflow, builds an ExecutionContext,
// and launches the Coordinator in the background. It returns 202
// Accepted with the new execution id immediately — the workflow may
// still be running, or even queued behind a durable step retry, when
// the client reads the response. Callers poll HandleGetExecution for
// the final outcome.
func (s *Service) HandleStartExecution(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	id := mux.Vars(r)["id"]

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var body startRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorJSON(w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return
	}

	wf, err := s.Workflows.GetWorkflow(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeErrorJSON(w, "NOT_FOUND", "workflow not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to get workflow", "id", id, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}

	ectx := core.ExecutionContext{
		Workflow:       wf,
		OrganizationID: body.OrganizationID,
		UserID:         body.UserID,
		WorkflowID:     id,
		ExecutionID:    uuid.New().String(),
		DeploymentID:   body.DeploymentID,
		CallerPlan:     body.CallerPlan,
		Trigger:        core.TriggerPayload{HTTPRequest: body.Inputs},
	}

	// Run detached from the request's context: the execution must outlive
	// this HTTP request, which is exactly the point of the async model.
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := s.Coordinator.Run(runCtx, ectx); err != nil {
			slog.Error("workflow execution failed", "executionId", ectx.ExecutionID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, startResponse{ExecutionID: ectx.ExecutionID, Status: string(core.StatusSubmitted)})
}

// HandleGetExecution returns the latest persisted ExecutionRecord for an
// execution id.
func (s *Service) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	executionID := mux.Vars(r)["executionId"]

	record, err := s.Executions.GetExecution(r.Context(), executionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeErrorJSON(w, "NOT_FOUND", "execution not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to get execution", "executionId", executionID, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// writeErrorJSON writes a structured JSON error response with a
// machine-readable code and a human-readable message.
func writeErrorJSON(w http.ResponseWriter, errCode, message string, status int) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"code": errCode, "message": message})
}
