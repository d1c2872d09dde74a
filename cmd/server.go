package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"curator/api"
	"curator/config"
	"curator/logger"

	"github.com/spf13/cobra"
)

var standaloneServerPort string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the capture API server (can be run standalone or as part of 'start')",
	RunE: func(cmd *cobra.Command, args []string) error {
		portToUse := standaloneServerPort
		if !cmd.Flags().Changed("port") && config.AppConfig.Server.Port != "" {
			portToUse = config.AppConfig.Server.Port
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serveAPI(ctx, portToUse)
	},
}

// serveAPI runs the API server on port until ctx is cancelled.
func serveAPI(ctx context.Context, port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           api.NewRouter(config.AppConfig.Curation.Deduplication),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server: Listening on :%s", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.Error("Server: ListenAndServe error: %v", err)
		return err
	case <-ctx.Done():
		logger.Info("Server: Shutdown signal received...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server: Graceful shutdown failed: %v", err)
			return err
		}
		logger.Info("Server: Gracefully stopped.")
		return nil
	}
}

func init() {
	serverCmd.Flags().StringVarP(&standaloneServerPort, "port", "p", "8778", "Port for the server to listen on (overrides config)")
	rootCmd.AddCommand(serverCmd)
}
