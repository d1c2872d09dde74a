package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"curator/config"
	"curator/core"
	"curator/database"
	"curator/logger"
	"curator/models"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	curateEndpoint   string
	curateMethod     string
	curateBaseURL    string
	curateSchemaPath string
	curateOut        string
	curateFormat     string
	curateNoValidate bool
)

var curateCmd = &cobra.Command{
	Use:   "curate",
	Short: "Deduplicate and revalidate captured records",
}

// liveCaller returns nil (not a typed nil) when no base URL is configured so
// the validator can report ErrNoLiveCaller.
func liveCaller() (core.LiveCaller, error) {
	live := config.AppConfig.Live
	baseURL := curateBaseURL
	if baseURL == "" {
		baseURL = live.BaseURL
	}
	if baseURL == "" {
		return nil, nil
	}
	caller, err := core.NewHTTPLiveCaller(core.HTTPLiveCallerOptions{
		BaseURL:       baseURL,
		Timeout:       live.Timeout,
		SkipTLSVerify: live.SkipTLSVerify,
		Headers:       live.Headers,
	})
	if err != nil {
		return nil, err
	}
	return caller, nil
}

func validatorOptions() ([]core.ValidatorOption, error) {
	var opts []core.ValidatorOption
	if seed := config.AppConfig.Live.Seed; seed != 0 {
		opts = append(opts, core.WithSynthesizer(core.NewSeededSynthesizer(seed)))
	}
	schemaPath := curateSchemaPath
	if schemaPath == "" {
		schemaPath = config.AppConfig.Schema.Path
	}
	if schemaPath != "" {
		schema, err := core.LoadResponseSchema(schemaPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, core.WithResponseSchema(schema))
	}
	return opts, nil
}

func loadCurationInput(ctx context.Context) ([]models.CapturedRecord, error) {
	return database.QueryCapturedRecords(ctx, models.RecordFilters{
		Endpoint: curateEndpoint,
		Method:   strings.ToUpper(curateMethod),
	})
}

// writeReport encodes v as json or yaml to path, or stdout when path is empty.
func writeReport(path, format string, v interface{}) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		defer f.Close()
		w = f
	}
	switch strings.ToLower(format) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}

var curateRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Deduplicate stored records and revalidate the representatives against the live service",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := loadCurationInput(cmd.Context())
		if err != nil {
			return err
		}
		valCfg := config.AppConfig.Curation.Validation
		if curateNoValidate {
			valCfg.Enabled = false
		}
		caller, err := liveCaller()
		if err != nil {
			return err
		}
		opts, err := validatorOptions()
		if err != nil {
			return err
		}

		report, err := core.RunCuration(cmd.Context(), records, config.AppConfig.Curation.Deduplication, valCfg, caller, opts...)
		if err != nil {
			logger.Error("Curation failed: %v", err)
			return err
		}
		s := report.Deduplication.Stats
		fmt.Fprintf(os.Stderr, "Run %s: %d records, %d after body dedup, %d selected", report.RunID, s.InputRecords, s.AfterBodyDedup, s.Selected)
		if v := report.Validation; v != nil {
			fmt.Fprintf(os.Stderr, "; validation kept %d, updated %d, deleted %d, skipped %d, failed %d",
				v.KeptCount, v.UpdatedCount, v.DeletedCount, v.SkippedCount, v.FailedCount)
		}
		fmt.Fprintln(os.Stderr)
		return writeReport(curateOut, curateFormat, report)
	},
}

var curateDedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Deduplicate stored records without calling the live service",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := loadCurationInput(cmd.Context())
		if err != nil {
			return err
		}
		result := core.Deduplicate(records, config.AppConfig.Curation.Deduplication)
		fmt.Fprintf(os.Stderr, "%d records reduced to %d in %d groups\n",
			result.Stats.InputRecords, result.Stats.Selected, result.Stats.SignatureGroups)
		return writeReport(curateOut, curateFormat, result)
	},
}

var curateValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Replay stored records against the live service and classify them",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := loadCurationInput(cmd.Context())
		if err != nil {
			return err
		}
		caller, err := liveCaller()
		if err != nil {
			return err
		}
		opts, err := validatorOptions()
		if err != nil {
			return err
		}
		valCfg := config.AppConfig.Curation.Validation
		valCfg.Enabled = true
		result, err := core.ValidateRequests(cmd.Context(), records, valCfg, caller, opts...)
		if err != nil {
			logger.Error("Validation failed: %v", err)
			return err
		}
		fmt.Fprintf(os.Stderr, "kept %d, updated %d, deleted %d, skipped %d, failed %d; %d 422 seeds, %d duplicate-400 seeds\n",
			result.KeptCount, result.UpdatedCount, result.DeletedCount, result.SkippedCount, result.FailedCount,
			len(result.Validation422Errors), len(result.Duplicate400Errors))
		return writeReport(curateOut, curateFormat, result)
	},
}

func init() {
	for _, c := range []*cobra.Command{curateRunCmd, curateDedupCmd, curateValidateCmd} {
		c.Flags().StringVarP(&curateEndpoint, "endpoint", "e", "", "Only curate this endpoint template")
		c.Flags().StringVarP(&curateMethod, "method", "m", "", "Only curate this HTTP method")
		c.Flags().StringVarP(&curateOut, "out", "o", "", "Write the report to this file instead of stdout")
		c.Flags().StringVar(&curateFormat, "format", "json", "Report format: json or yaml")
		curateCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{curateRunCmd, curateValidateCmd} {
		c.Flags().StringVar(&curateBaseURL, "base-url", "", "Base URL of the live service (overrides live.base_url)")
		c.Flags().StringVar(&curateSchemaPath, "schema", "", "OpenAPI/Swagger document listing required response fields")
	}
	curateRunCmd.Flags().BoolVar(&curateNoValidate, "no-validate", false, "Skip live revalidation")
	rootCmd.AddCommand(curateCmd)
}
