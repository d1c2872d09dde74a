package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"curator/config"
	"curator/core"
	"curator/database"
	"curator/logger"

	"github.com/spf13/cobra"
)

var standaloneProxyPort string

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Manages the capture proxy (can be run standalone or as part of 'start')",
}

var proxyStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Starts the capture proxy",
	Long: `Starts the recording proxy. Point your test suite's HTTP client at it and tag
requests with the test name header (X-Test-Name by default). JSON API calls are
buffered per test and written to the database in batches.
HTTPS targets need the CA from 'proxy init-ca' to be trusted by the client.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		portToUse := standaloneProxyPort
		if !cmd.Flags().Changed("port") && config.AppConfig.Capture.Port != "" {
			portToUse = config.AppConfig.Capture.Port
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return newCaptureProxy().Run(ctx, ":"+portToUse)
	},
}

// newCaptureProxy builds the proxy from AppConfig. A missing CA falls back to
// the proxy library's built-in one with a warning.
func newCaptureProxy() *core.CaptureProxy {
	c := config.AppConfig.Capture
	opts := core.CaptureProxyOptions{
		TestNameHeader:  c.TestNameHeader,
		TestFileHeader:  c.TestFileHeader,
		IncludePrefixes: c.IncludePrefixes,
		BatchSize:       c.BatchSize,
		FlushInterval:   c.FlushInterval,
		Sink:            database.InsertCapturedRecords,
	}
	ca, err := core.LoadCA(c.CACertPath, c.CAKeyPath)
	if err != nil {
		logger.Warn("Capture proxy: %v. Using the built-in CA; run 'proxy init-ca' for your own.", err)
	} else {
		opts.CA = ca
		logger.CaptureInfo("Capture proxy using CA Cert: %s, CA Key: %s", c.CACertPath, c.CAKeyPath)
	}
	return core.NewCaptureProxy(opts)
}

var proxyInitCACmd = &cobra.Command{
	Use:   "init-ca",
	Short: "Generates the root CA certificate and key used for HTTPS capture",
	RunE: func(cmd *cobra.Command, args []string) error {
		certPath := config.AppConfig.Capture.CACertPath
		keyPath := config.AppConfig.Capture.CAKeyPath
		if certPath == "" || keyPath == "" {
			return fmt.Errorf("capture.ca_cert_path and capture.ca_key_path must be configured")
		}
		if err := core.GenerateAndSaveCA(certPath, keyPath); err != nil {
			return fmt.Errorf("generating CA: %w", err)
		}
		fmt.Printf("CA written to %s (key: %s).\n", certPath, keyPath)
		fmt.Println("Import the certificate into the trust store used by your test client.")
		return nil
	},
}

func init() {
	proxyStartCmd.Flags().StringVarP(&standaloneProxyPort, "port", "p", "8777", "Port for the capture proxy to listen on (overrides config)")

	proxyCmd.AddCommand(proxyStartCmd)
	proxyCmd.AddCommand(proxyInitCACmd)
	rootCmd.AddCommand(proxyCmd)
}
