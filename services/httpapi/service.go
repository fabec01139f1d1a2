// Package httpapi is the HTTP trigger/status surface over the
// Coordinator: POST starts an execution and returns immediately: GET
// reads back its latest persisted status. It never blocks a request on
// the workflow actually finishing (see the asynchronous execution
// REDESIGN FLAG) — a durable step can legitimately take minutes, far
// longer than it is reasonable to hold an HTTP response open.
package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/coordinatord/flowcore/services/core"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// WorkflowStore resolves a workflow definition by id.
type WorkflowStore interface {
	GetWorkflow(ctx context.Context, id string) (core.Workflow, error)
}

// ExecutionReader reads back a previously started execution.
type ExecutionReader interface {
	GetExecution(ctx context.Context, id string) (core.ExecutionRecord, error)
}

// Service wires the Coordinator behind an HTTP surface. It depends on
// interfaces rather than concrete storage/coordinator types so it can be
// tested with fakes.
type Service struct {
	Workflows   WorkflowStore
	Executions  ExecutionReader
	Coordinator *core.Coordinator
}

// NewService constructs a Service. store and reader must be non-nil.
func NewService(store WorkflowStore, reader ExecutionReader, coordinator *core.Coordinator) (*Service, error) {
	if store == nil || reader == nil {
		return nil, fmt.Errorf("httpapi: workflow store and execution reader cannot be nil")
	}
	return &Service{Workflows: store, Executions: reader, Coordinator: coordinator}, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers the workflow/execution routes under parentRouter.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/workflows").Subrouter()
	router.StrictSlash(false)
	router.Use(requestIDMiddleware)
	router.Use(jsonMiddleware)

	router.HandleFunc("/{id}", s.HandleGetWorkflow).Methods("GET")
	router.HandleFunc("/{id}/executions", s.HandleStartExecution).Methods("POST")
	router.HandleFunc("/{id}/executions/{executionId}", s.HandleGetExecution).Methods("GET")
}

func reqID(r *http.Request) string {
	if v, ok := r.Context().Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
