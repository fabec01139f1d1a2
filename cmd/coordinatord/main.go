package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/coordinatord/flowcore/pkg/db"
	"github.com/coordinatord/flowcore/services/core"
	"github.com/coordinatord/flowcore/services/credit"
	"github.com/coordinatord/flowcore/services/durable"
	"github.com/coordinatord/flowcore/services/httpapi"
	"github.com/coordinatord/flowcore/services/monitor"
	"github.com/coordinatord/flowcore/services/objectstore"
	"github.com/coordinatord/flowcore/services/registry"
	"github.com/coordinatord/flowcore/services/resource"
	"github.com/coordinatord/flowcore/services/storage"
)

func main() {
	ctx := context.Background()
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(logHandler))

	dbURL, ok := os.LookupEnv("DATABASE_URL")
	if !ok {
		slog.Error("DATABASE_URL is not set")
		return
	}
	redisAddr, ok := os.LookupEnv("REDIS_ADDR")
	if !ok {
		redisAddr = "localhost:6379"
	}
	devMode := os.Getenv("DEV_MODE") == "true"
	creditBudget := 10000
	if v := os.Getenv("CREDIT_BUDGET"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			creditBudget = parsed
		}
	}

	dbCfg := db.DefaultConfig(dbURL)
	pool, err := db.Connect(ctx, dbCfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		return
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer redisClient.Close()

	registerer := prometheus.NewRegistry()
	metrics := core.NewMetrics(registerer)

	store, err := storage.New(pool)
	if err != nil {
		slog.Error("failed to create storage instance", "error", err)
		return
	}
	executions := storage.ExecutionStore{Store: store}

	objects := objectstore.New(pool)
	steps := durable.New(pool, metrics)
	credits := credit.NewGate(redisClient, creditBudget)
	broadcaster := monitor.New(slog.Default())

	resourceProvider := resource.New(pool)
	nodeRegistry := registry.Builtin()
	// Two-phase construction: the tool registry exposes the same builtin
	// node types as invocable tools, closing the Coordinator /
	// ResourceProvider / ToolRegistry cycle described in the design notes.
	resourceProvider.SetToolRegistry(newToolRegistry(nodeRegistry, resourceProvider))

	coordinator := &core.Coordinator{
		Registry:            nodeRegistry,
		Resources:           resourceProvider,
		Objects:             objects,
		Store:               executions,
		Monitor:             broadcaster,
		Credits:             credits,
		Steps:               steps,
		IsAllowed:           core.AllowAll,
		Metrics:             metrics,
		MaxInFlightPerLevel: 8,
		DevMode:             devMode,
	}

	apiService, err := httpapi.NewService(store, store, coordinator)
	if err != nil {
		slog.Error("failed to create http service", "error", err)
		return
	}

	mainRouter := mux.NewRouter()
	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()
	apiService.LoadRoutes(apiRouter)
	mainRouter.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{})).Methods("GET")

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins([]string{"http://localhost:3003"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)(mainRouter)

	srv := &http.Server{
		Addr:    ":8080",
		Handler: corsHandler,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("starting server on :8080")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)
	case sig := <-shutdown:
		slog.Info("shutdown signal received", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("could not stop server gracefully", "error", err)
			srv.Close()
		}
	}
}
