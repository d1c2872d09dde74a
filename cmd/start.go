package cmd

import (
	"os/signal"
	"syscall"

	"curator/config"
	"curator/logger"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	startServerPort string
	startProxyPort  string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Starts the capture API server and the capture proxy",
	Long: `Starts both the capture API server and the capture proxy concurrently.
Press Ctrl+C to flush buffered records and shut down.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		serverPort := startServerPort
		if !cmd.Flags().Changed("server-port") && config.AppConfig.Server.Port != "" {
			serverPort = config.AppConfig.Server.Port
		}
		proxyPort := startProxyPort
		if !cmd.Flags().Changed("proxy-port") && config.AppConfig.Capture.Port != "" {
			proxyPort = config.AppConfig.Capture.Port
		}
		logger.Info("Start Command: Server: %s, Proxy: %s", serverPort, proxyPort)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// First failure cancels the other service.
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return serveAPI(gctx, serverPort) })
		g.Go(func() error { return newCaptureProxy().Run(gctx, ":"+proxyPort) })

		err := g.Wait()
		logger.Info("Start Command: Exited (err: %v).", err)
		return err
	},
}

func init() {
	startCmd.Flags().StringVar(&startServerPort, "server-port", "8778", "Port for the API server (overrides config)")
	startCmd.Flags().StringVar(&startProxyPort, "proxy-port", "8777", "Port for the capture proxy (overrides config)")
	rootCmd.AddCommand(startCmd)
}
