package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finresearch-cli/internal/api"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for batch runs and stored records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		orch := env.Orchestrator()
		router := api.NewRouter(api.Dependencies{
			Batch:     orch,
			Records:   env.Store,
			Companies: env.ListCompanies,
		}, cfg.Server.CORSOrigins)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		serveErr := api.Serve(ctx, api.Config{
			Addr:            fmt.Sprintf(":%d", port),
			ShutdownTimeout: 15 * time.Second,
		}, router)

		// In-flight items must finish before the store closes.
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Batch.Options().ItemTimeout+30*time.Second)
		defer cancel()
		if err := orch.Drain(drainCtx); err != nil {
			zap.L().Warn("serve: batch did not drain", zap.Error(err))
		}
		return serveErr
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (0 uses server.port)")
	rootCmd.AddCommand(serveCmd)
}
