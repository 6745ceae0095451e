package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wonny/coarank/backend/internal/api"
	"github.com/wonny/coarank/backend/internal/api/handlers"
	"github.com/wonny/coarank/backend/internal/scheduler"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long: `Starts the REST API server.

Endpoints:
  GET  /health
  GET  /api/rankings?top=N
  GET  /api/rankings/export?format=csv|xlsx
  GET  /api/statistics
  GET  /api/suppliers/{name}/certificates
  GET  /api/suppliers/{name}/trend
  GET  /api/peptides/suggest?q=
  GET  /api/peptides/{name}/suppliers
  POST /api/runs
  GET  /api/runs/last
  GET  /ws/progress
  GET  /metrics

Example:
  go run ./cmd/coarank api
  go run ./cmd/coarank api --port 8080 --with-scheduler`,
	RunE: runAPIServer,
}

var (
	apiPort          string
	apiWithScheduler bool
)

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringVar(&apiPort, "port", "", "API server port (default PORT)")
	apiCmd.Flags().BoolVar(&apiWithScheduler, "with-scheduler", false, "also run the cron jobs in this process")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== coarank API Server ===")

	baseCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	a, err := bootstrap(baseCtx, os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	if apiPort != "" {
		a.cfg.Port = apiPort
	}
	log := a.log

	hub := handlers.NewProgressHub(log)
	defer hub.Close()
	runs := handlers.NewRunHandler(baseCtx, a.manager, hub, log)

	var gatherer prometheus.Gatherer
	if a.cfg.MetricsEnabled {
		gatherer = a.registry
	}
	router := api.NewRouter(api.Handlers{
		Ranking:  handlers.NewRankingHandler(a.manager, log),
		Runs:     runs,
		Progress: hub,
		Metrics:  gatherer,
	}, log)

	server := api.New(a.cfg, log, router)
	ln, err := net.Listen("tcp", ":"+a.cfg.Port)
	if err != nil {
		return fmt.Errorf("listen on port %s: %w", a.cfg.Port, err)
	}

	var sched *scheduler.Scheduler
	if apiWithScheduler {
		sched, err = newScheduler(a, hub.Publish)
		if err != nil {
			ln.Close()
			return err
		}
		sched.Start()
	}

	log.Info("API server started successfully")
	fmt.Printf("\n✅ Server running on http://localhost:%s\n", a.cfg.Port)
	fmt.Println("\nPress Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := server.Run(ctx, ln)

	// Stop background runs; their partial results are still scored.
	cancelRuns()
	if sched != nil {
		sched.Stop()
	}
	runs.Wait()

	if serveErr != nil {
		return serveErr
	}
	log.Info("Server stopped")
	return nil
}
