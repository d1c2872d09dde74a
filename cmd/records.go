package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"curator/core"
	"curator/database"
	"curator/logger"
	"curator/models"

	"github.com/spf13/cobra"
)

var (
	recordsListFilters models.RecordFilters
	recordsPurgeForce  bool
	recordsPurgeTarget string
)

var recordsCmd = &cobra.Command{
	Use:     "records",
	Short:   "View, import, and purge captured request/response records",
	Aliases: []string{"rec"},
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func printRecordTable(records []models.CapturedRecord) {
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 1, '\t', 0)
	fmt.Fprintln(writer, "ID\tTIMESTAMP\tMETH\tENDPOINT\tSTATUS\tTEST")
	fmt.Fprintln(writer, "--\t---------\t----\t--------\t------\t----")
	for _, r := range records {
		ts := "N/A"
		if !r.Timestamp.IsZero() {
			ts = r.Timestamp.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, ts, r.Method, truncate(r.Endpoint, 60), r.ResponseStatus, truncate(r.TestName, 50))
	}
	writer.Flush()
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured records",
	RunE: func(cmd *cobra.Command, args []string) error {
		filters := recordsListFilters
		filters.Method = strings.ToUpper(filters.Method)
		records, err := database.QueryCapturedRecords(cmd.Context(), filters)
		if err != nil {
			logger.Error("Failed to query captured records: %v", err)
			return err
		}
		if len(records) == 0 {
			fmt.Println("No matching records found.")
			return nil
		}
		printRecordTable(records)
		fmt.Printf("---\n%d records\n", len(records))
		return nil
	},
}

var recordsEndpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "List distinct endpoints and methods with record counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		summaries, err := database.GetEndpointSummaries(cmd.Context())
		if err != nil {
			logger.Error("Failed to list endpoints: %v", err)
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("No records captured yet.")
			return nil
		}
		writer := tabwriter.NewWriter(os.Stdout, 0, 8, 1, '\t', 0)
		fmt.Fprintln(writer, "METHOD\tENDPOINT\tRECORDS")
		fmt.Fprintln(writer, "------\t--------\t-------")
		for _, s := range summaries {
			fmt.Fprintf(writer, "%s\t%s\t%d\n", s.Method, s.Endpoint, s.Count)
		}
		writer.Flush()
		return nil
	},
}

var recordsUniqueCmd = &cobra.Command{
	Use:   "unique",
	Short: "List the first record of every distinct endpoint, method, and request body",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := database.GetUniqueRequests(cmd.Context())
		if err != nil {
			logger.Error("Failed to query unique requests: %v", err)
			return err
		}
		printRecordTable(records)
		return nil
	},
}

// importRecords reads a JSON array of records (or {"records": [...]}) from path.
func importRecords(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	var records []models.CapturedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		var envelope struct {
			Records []models.CapturedRecord `json:"records"`
		}
		if envErr := json.Unmarshal(data, &envelope); envErr != nil {
			return 0, fmt.Errorf("parsing %s: %w", path, err)
		}
		records = envelope.Records
	}
	for i := range records {
		if records[i].Endpoint == "" && records[i].RequestPath != "" {
			records[i].Endpoint = core.TemplatePath(records[i].RequestPath)
		}
	}
	return database.InsertCapturedRecords(ctx, records)
}

var recordsImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Import records from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stored, err := importRecords(cmd.Context(), args[0])
		if err != nil {
			logger.Error("Import failed: %v", err)
			return err
		}
		fmt.Printf("Imported %d records from %s.\n", stored, args[0])
		return nil
	},
}

var recordsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete captured records",
	Long: `Deletes every captured record, or only those of one endpoint with --endpoint.
This command will ask for confirmation before proceeding unless the --force flag is used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !recordsPurgeForce {
			scope := "ALL captured records"
			if recordsPurgeTarget != "" {
				scope = "captured records of " + recordsPurgeTarget
			}
			fmt.Printf("WARNING: This will permanently delete %s.\nAre you sure you want to continue? (yes/no): ", scope)
			input, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			if strings.ToLower(strings.TrimSpace(input)) != "yes" {
				fmt.Println("Purge operation cancelled.")
				return nil
			}
		}
		removed, err := database.PurgeCapturedRecords(cmd.Context(), recordsPurgeTarget)
		if err != nil {
			logger.Error("Failed to purge records: %v", err)
			return err
		}
		fmt.Printf("Successfully purged %d records.\n", removed)
		logger.Info("Purged %d captured records (endpoint filter: %q).", removed, recordsPurgeTarget)
		return nil
	},
}

func init() {
	f := recordsListCmd.Flags()
	f.StringVarP(&recordsListFilters.Endpoint, "endpoint", "e", "", "Endpoint template, e.g. /api/users/{id}")
	f.StringVarP(&recordsListFilters.Method, "method", "m", "", "HTTP method")
	f.IntVar(&recordsListFilters.StatusMin, "status-min", 0, "Lowest response status")
	f.IntVar(&recordsListFilters.StatusMax, "status-max", 0, "Highest response status")
	f.StringVarP(&recordsListFilters.TestName, "test", "t", "", "Substring of the test name")
	f.IntVarP(&recordsListFilters.Limit, "limit", "l", 50, "Maximum records (0 for all)")
	f.IntVar(&recordsListFilters.Offset, "offset", 0, "Records to skip")

	recordsPurgeCmd.Flags().BoolVarP(&recordsPurgeForce, "force", "f", false, "Skip confirmation prompt")
	recordsPurgeCmd.Flags().StringVarP(&recordsPurgeTarget, "endpoint", "e", "", "Only purge this endpoint template")

	recordsCmd.AddCommand(recordsListCmd, recordsEndpointsCmd, recordsUniqueCmd, recordsImportCmd, recordsPurgeCmd)
	rootCmd.AddCommand(recordsCmd)
}
