package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/hrq/internal/config"
)

// --- query ---

// queryResponse mirrors POST /v1/query.
type queryResponse struct {
	Result struct {
		Intent          string           `json:"intent"`
		SQLRows         []map[string]any `json:"sql_rows"`
		DocumentMatches []struct {
			ChunkID        string  `json:"chunk_id"`
			Text           string  `json:"text"`
			Similarity     float32 `json:"similarity"`
			SourceDocument string  `json:"source_document"`
		} `json:"document_matches"`
		GeneratedSQL string   `json:"generated_sql"`
		Sources      []string `json:"sources"`
	} `json:"result"`
	Meta struct {
		ResponseTimeMs int64    `json:"response_time_ms"`
		CacheHit       bool     `json:"cache_hit"`
		ResultsCount   int      `json:"results_count"`
		Warnings       []string `json:"warnings"`
	} `json:"meta"`
}

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question about employees",
	Long: `Ask a natural-language question. Structural questions run as SQL against
--dataset, questions about skills and experience search ingested documents,
and questions mixing both do both.

Examples:
  hrq query --dataset hr "How many employees do we have?"
  hrq query "Who has Kubernetes experience?"
  hrq query --dataset hr "Employees with Python skills earning over 100k"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		datasetID, _ := cmd.Flags().GetString("dataset")
		raw, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		stop := startSpinner("thinking")
		var body json.RawMessage
		err = client.call(cmd.Context(), http.MethodPost, "/v1/query", map[string]string{
			"query":      question,
			"dataset_id": datasetID,
		}, &body)
		stop()
		if err != nil {
			return err
		}

		if raw {
			return writeIndented(cmd.OutOrStdout(), body)
		}
		var qr queryResponse
		if err := json.Unmarshal(body, &qr); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		printQueryResponse(cmd.OutOrStdout(), &qr)
		return nil
	},
}

func init() {
	queryCmd.Flags().String("dataset", "", "dataset ID for SQL questions")
	queryCmd.Flags().Bool("json", false, "print the raw JSON response")
}

func printQueryResponse(w io.Writer, qr *queryResponse) {
	res := qr.Result
	if res.GeneratedSQL != "" {
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "SQL:"), res.GeneratedSQL)
	}
	if res.SQLRows != nil {
		fmt.Fprintf(w, "%s\n", colorize(colorBold, fmt.Sprintf("Rows (%d):", len(res.SQLRows))))
		for _, row := range res.SQLRows {
			fmt.Fprintf(w, "  %s\n", formatRow(row))
		}
	}
	if res.DocumentMatches != nil {
		fmt.Fprintf(w, "%s\n", colorize(colorBold, fmt.Sprintf("Documents (%d):", len(res.DocumentMatches))))
		for _, m := range res.DocumentMatches {
			text := m.Text
			if len([]rune(text)) > 200 {
				text = string([]rune(text)[:200]) + "..."
			}
			fmt.Fprintf(w, "  %s [%.3f] %s\n", colorize(colorCyan, m.SourceDocument), m.Similarity, text)
		}
	}
	for _, warning := range qr.Meta.Warnings {
		fmt.Fprintln(w, colorize(colorYellow, "warning: "+warning))
	}
	hit := ""
	if qr.Meta.CacheHit {
		hit = ", cached"
	}
	fmt.Fprintf(w, "%s intent, %d results, %dms%s; sources: %s\n",
		res.Intent, qr.Meta.ResultsCount, qr.Meta.ResponseTimeMs, hit, strings.Join(res.Sources, ", "))
}

// formatRow prints columns in name order so output is stable.
func formatRow(row map[string]any) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, row[k])
	}
	return strings.Join(parts, " ")
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a document for semantic search",
	Long: `Ingest a plain-text document (CV, review, policy). It is split into
chunks and embedded in the background.

Examples:
  hrq ingest --file ./cv_jane.txt
  hrq ingest --text "Raj maintains the Kotlin app" --filename notes_raj.txt --meta team=mobile`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		filename, _ := cmd.Flags().GetString("filename")
		meta, _ := cmd.Flags().GetStringToString("meta")

		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		req := map[string]any{"type": "text"}
		if len(meta) > 0 {
			req["metadata"] = meta
		}
		switch {
		case text != "":
			req["content"] = text
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			req["content"] = string(data)
			if filename == "" {
				filename = filepath.Base(file)
			}
		}
		if filename == "" {
			return fmt.Errorf("--filename is required with --text")
		}
		req["filename"] = filename

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var result struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Chunks int    `json:"chunks"`
		}
		if err := client.call(cmd.Context(), http.MethodPost, "/v1/documents", req, &result); err != nil {
			return err
		}

		printSuccess("Queued document %s (%d chunks)", result.ID, result.Chunks)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest")
	ingestCmd.Flags().String("filename", "", "source filename shown in results (default: base name of --file)")
	ingestCmd.Flags().StringToString("meta", nil, "metadata key=value pairs")
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage ingested documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var docs []struct {
			ID         string `json:"id"`
			Filename   string `json:"filename"`
			ChunkCount int    `json:"chunk_count"`
			Status     string `json:"status"`
			CreatedAt  string `json:"created_at"`
		}
		if err := client.call(cmd.Context(), http.MethodGet, fmt.Sprintf("/v1/documents?limit=%d", limit), nil, &docs); err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No documents found.")
			return nil
		}
		for _, d := range docs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s  %3d chunks  %s\n",
				colorize(colorCyan, shortID(d.ID)), d.Status, d.ChunkCount, d.Filename)
		}
		return nil
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.call(cmd.Context(), http.MethodDelete, "/v1/documents/"+url.PathEscape(args[0]), nil, nil); err != nil {
			return err
		}
		printSuccess("Deleted document %s", args[0])
		return nil
	},
}

func init() {
	documentsListCmd.Flags().Int("limit", 50, "maximum number of documents to list")
	documentsCmd.AddCommand(documentsListCmd, documentsDeleteCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- schema / datasets ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage discovered database schemas",
}

var schemaImportCmd = &cobra.Command{
	Use:   "import <dataset-id> <schema.json>",
	Short: "Import a discovered schema for a dataset",
	Long: `Import a schema descriptor ({"database_id", "tables": [...]}) and register
the database that SQL questions against this dataset will run on.

Example:
  hrq schema import hr ./hr-schema.json --driver sqlite --dsn ./hr.db`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		datasetID, path := args[0], args[1]
		name, _ := cmd.Flags().GetString("name")
		driver, _ := cmd.Flags().GetString("driver")
		dsn, _ := cmd.Flags().GetString("dsn")

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading schema: %w", err)
		}
		var schema json.RawMessage
		if err := json.Unmarshal(data, &schema); err != nil {
			return fmt.Errorf("schema is not valid JSON: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.call(cmd.Context(), http.MethodPost, "/v1/datasets/"+url.PathEscape(datasetID)+"/schema", map[string]any{
			"name":   name,
			"driver": driver,
			"dsn":    dsn,
			"schema": schema,
		}, nil); err != nil {
			return err
		}
		printSuccess("Imported schema for dataset %s", datasetID)
		return nil
	},
}

func init() {
	schemaImportCmd.Flags().String("name", "", "display name")
	schemaImportCmd.Flags().String("driver", "sqlite", "database driver: sqlite, postgres or duckdb")
	schemaImportCmd.Flags().String("dsn", "", "data source name of the HR database")
	schemaImportCmd.MarkFlagRequired("dsn")
	schemaCmd.AddCommand(schemaImportCmd)
}

// datasetSummary mirrors one entry of GET /v1/datasets.
type datasetSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Driver string `json:"driver"`
	Schema struct {
		Tables []struct {
			Name string `json:"name"`
		} `json:"tables"`
	} `json:"schema"`
}

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List or delete datasets",
}

var datasetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List datasets",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var list []datasetSummary
		if err := client.call(cmd.Context(), http.MethodGet, "/v1/datasets", nil, &list); err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No datasets found.")
			return nil
		}
		for _, ds := range list {
			tables := make([]string, len(ds.Schema.Tables))
			for i, t := range ds.Schema.Tables {
				tables[i] = t.Name
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s  %s\n", colorize(colorCyan, ds.ID), ds.Driver, strings.Join(tables, ", "))
		}
		return nil
	},
}

var datasetsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a dataset's schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.call(cmd.Context(), http.MethodDelete, "/v1/datasets/"+url.PathEscape(args[0]), nil, nil); err != nil {
			return err
		}
		printSuccess("Deleted dataset %s", args[0])
		return nil
	},
}

func init() {
	datasetsCmd.AddCommand(datasetsListCmd, datasetsDeleteCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently processed questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var items []struct {
			ID             string `json:"id"`
			Query          string `json:"query"`
			Intent         string `json:"intent"`
			ResultCount    int    `json:"result_count"`
			ResponseTimeMs int64  `json:"response_time_ms"`
			CacheHit       bool   `json:"cache_hit"`
			Status         string `json:"status"`
			Timestamp      string `json:"timestamp"`
		}
		if err := client.call(cmd.Context(), http.MethodGet, fmt.Sprintf("/v1/history?limit=%d", limit), nil, &items); err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No queries yet.")
			return nil
		}
		for _, it := range items {
			q := it.Query
			if len([]rune(q)) > 80 {
				q = string([]rune(q)[:80]) + "..."
			}
			flag := " "
			if it.CacheHit {
				flag = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s %-8s %-7s %4d  %5dms  %s\n",
				colorize(colorCyan, shortID(it.ID)), flag, it.Intent, it.Status, it.ResultCount, it.ResponseTimeMs, q)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of entries")
}

// --- cache ---

type cacheStats struct {
	Entries int   `json:"entries"`
	Live    int   `json:"live"`
	Hits    int64 `json:"hits"`
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or sweep the result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var st cacheStats
		if err := client.call(cmd.Context(), http.MethodGet, "/v1/cache/stats", nil, &st); err != nil {
			return err
		}
		printStatus("Entries", "%d", st.Entries)
		printStatus("Live", "%d", st.Live)
		printStatus("Hits", "%d", st.Hits)
		return nil
	},
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired cache entries now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var result struct {
			Deleted int64 `json:"deleted"`
		}
		if err := client.call(cmd.Context(), http.MethodPost, "/v1/cache/sweep", struct{}{}, &result); err != nil {
			return err
		}
		printSuccess("Swept %d expired entries", result.Deleted)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheSweepCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		for _, st := range config.Describe(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s %s\n",
				colorize(colorBold, st.Key), st.Value, colorize(colorCyan, st.EnvVar), sourceTag(st.Source))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s in %s", key, value, config.ConfigFilePath())
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a value from the config file, restoring its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s in %s", args[0], config.ConfigFilePath())
		return nil
	},
}

func sourceTag(src config.Source) string {
	switch src {
	case config.SourceEnv:
		return colorize(colorYellow, "(env)")
	case config.SourceFile:
		return colorize(colorGreen, "(file)")
	}
	return ""
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd)
}
