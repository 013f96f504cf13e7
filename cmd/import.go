package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/telemetry-import/internal/ingest"
	"procodus.dev/telemetry-import/internal/store"
	"procodus.dev/telemetry-import/pkg/metrics"
	"procodus.dev/telemetry-import/pkg/mq"
)

// Exit codes of the import batch contract.
const (
	exitOK              = 0
	exitMissingArgument = 2
	exitFileNotFound    = 3
	exitResourceFailure = 4
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import a logger export file",
	Long: `Import one temperature/humidity logger export file:
- Detects the format (workbook or delimited text)
- Maps columns, validates rows, resolves the sensor
- Bulk-inserts readings with duplicate skipping
- Prints a single-line JSON summary`,
	Run: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().String("sensor-id", "", "explicit sensor serial number")
	importCmd.Flags().String("suitcase", "", "target suitcase name (created when absent)")
	importCmd.Flags().Uint("validation-id", 0, "validation run the readings belong to")
	importCmd.Flags().String("upload-dir", ".", "directory uploaded files are resolved against")
	importCmd.Flags().Int("batch-size", ingest.DefaultChunkSize, "rows per bulk insert chunk")
	importCmd.Flags().Duration("open-timeout", ingest.DefaultOpenTimeout, "parser open timeout")
	importCmd.Flags().Int("metrics-port", 0, "serve Prometheus metrics on this port while running (0 disables)")
	importCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	importCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	importCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	importCmd.Flags().String("db-password", "", "PostgreSQL password")
	importCmd.Flags().String("db-name", "telemetry", "PostgreSQL database name")
	importCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	importCmd.Flags().String("amqp-url", "", "RabbitMQ URL for import notifications (empty disables)")
	importCmd.Flags().String("queue-name", "import-results", "RabbitMQ queue for import notifications")

	_ = viper.BindPFlag("import.sensor_id", importCmd.Flags().Lookup("sensor-id"))
	_ = viper.BindPFlag("import.suitcase", importCmd.Flags().Lookup("suitcase"))
	_ = viper.BindPFlag("import.validation_id", importCmd.Flags().Lookup("validation-id"))
	_ = viper.BindPFlag("import.upload_dir", importCmd.Flags().Lookup("upload-dir"))
	_ = viper.BindPFlag("import.batch_size", importCmd.Flags().Lookup("batch-size"))
	_ = viper.BindPFlag("import.open_timeout", importCmd.Flags().Lookup("open-timeout"))
	_ = viper.BindPFlag("import.metrics_port", importCmd.Flags().Lookup("metrics-port"))
	_ = viper.BindPFlag("import.db.host", importCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("import.db.port", importCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("import.db.user", importCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("import.db.password", importCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("import.db.name", importCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("import.db.sslmode", importCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("import.amqp.url", importCmd.Flags().Lookup("amqp-url"))
	_ = viper.BindPFlag("import.amqp.queue_name", importCmd.Flags().Lookup("queue-name"))
}

// errorPayload is the structured error printed on fatal failure.
type errorPayload struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	File  string `json:"file,omitempty"`
}

func runImport(_ *cobra.Command, args []string) {
	logger := GetLogger()

	if len(args) < 1 {
		printJSON(errorPayload{Error: "missing required argument: file"})
		os.Exit(exitMissingArgument)
	}

	path, ok := resolveUpload(viper.GetString("import.upload_dir"), args[0])
	if !ok {
		printJSON(errorPayload{Error: "file not found in upload directory", File: args[0]})
		os.Exit(exitFileNotFound)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := store.NewDB(&store.DBConfig{
		Logger:   logger,
		Host:     viper.GetString("import.db.host"),
		Port:     viper.GetInt("import.db.port"),
		User:     viper.GetString("import.db.user"),
		Password: viper.GetString("import.db.password"),
		DBName:   viper.GetString("import.db.name"),
		SSLMode:  viper.GetString("import.db.sslmode"),
	})
	if err != nil {
		logger.Error("database unavailable", "error", err)
		printJSON(errorPayload{Error: err.Error(), File: filepath.Base(path)})
		os.Exit(exitResourceFailure)
	}
	defer func() {
		if err := store.CloseDB(db, logger); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	sensors, err := store.NewSensorStore(db)
	if err != nil {
		fatalExit(logger, path, err)
	}
	readings, err := store.NewReadingStore(db)
	if err != nil {
		fatalExit(logger, path, err)
	}

	var suitcaseID uint
	if name := viper.GetString("import.suitcase"); name != "" {
		suitcases, err := store.NewSuitcaseStore(db)
		if err != nil {
			fatalExit(logger, path, err)
		}
		suitcase, err := suitcases.Ensure(ctx, name)
		if err != nil {
			logger.Error("failed to ensure suitcase", "suitcase", name, "error", err)
			printJSON(errorPayload{Error: err.Error(), File: filepath.Base(path)})
			os.Exit(exitResourceFailure)
		}
		suitcaseID = suitcase.ID
	}

	var validationID *uint
	if v := viper.GetUint("import.validation_id"); v > 0 {
		validationID = &v
	}

	explicitSerial := viper.GetString("import.sensor_id")
	dataConfig := loadDataConfig(ctx, sensors, explicitSerial, logger)

	ingestMetrics := metrics.NewIngestMetrics("telemetry_import")
	if port := viper.GetInt("import.metrics_port"); port > 0 {
		go serveMetrics(port, logger)
	}

	job, err := ingest.NewJob(ingest.JobConfig{
		Logger:         logger,
		Sensors:        sensors,
		Readings:       readings,
		FilePath:       path,
		ExplicitSerial: explicitSerial,
		SuitcaseID:     suitcaseID,
		ValidationID:   validationID,
		DataConfig:     dataConfig,
		ChunkSize:      viper.GetInt("import.batch_size"),
		OpenTimeout:    viper.GetDuration("import.open_timeout"),
		Metrics:        ingestMetrics,
	})
	if err != nil {
		fatalExit(logger, path, err)
	}

	result, err := job.Run(ctx)
	if err != nil {
		kind, _ := ingest.FatalKindOf(err)
		logger.Error("import failed", "kind", string(kind), "error", err)
		printJSON(errorPayload{Error: err.Error(), Kind: string(kind), File: filepath.Base(path)})
		os.Exit(exitCodeFor(kind))
	}

	notifyResult(ctx, logger, result)
	printJSON(result.Summary())
	os.Exit(exitOK)
}

// resolveUpload tries the upload directory root, then its uploads/
// subdirectory, then the raw reference.
func resolveUpload(dir, ref string) (string, bool) {
	candidates := []string{
		filepath.Join(dir, ref),
		filepath.Join(dir, "uploads", ref),
		ref,
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, true
		}
	}
	return "", false
}

// loadDataConfig fetches the stored column configuration of an
// explicitly named sensor. Unknown sensors or malformed configs just
// fall back to heuristics.
func loadDataConfig(ctx context.Context, sensors *store.SensorStore, serial string, logger *slog.Logger) *ingest.DataConfig {
	if serial == "" {
		return nil
	}
	raw, err := sensors.DataConfigForSerial(ctx, serial)
	if err != nil || raw == "" {
		return nil
	}
	var cfg ingest.DataConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		logger.Warn("ignoring malformed sensor type data config", "serial", serial, "error", err)
		return nil
	}
	return &cfg
}

// notifyResult publishes the import summary when a broker is
// configured. Notification failures are logged, never fatal: the
// readings are already durable.
func notifyResult(ctx context.Context, logger *slog.Logger, result *ingest.ImportResult) {
	url := viper.GetString("import.amqp.url")
	if url == "" {
		return
	}

	publisher := mq.NewPublisher(viper.GetString("import.amqp.queue_name"), url, logger)
	publisher.SetMetrics(metrics.NewMQMetrics("telemetry_import"))
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("failed to close publisher", "error", err)
		}
	}()

	payload, err := json.Marshal(result)
	if err != nil {
		logger.Error("failed to marshal import result", "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := publisher.Publish(pubCtx, payload); err != nil {
		logger.Error("failed to publish import notification", "error", err)
	}
}

func serveMetrics(port int, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
		logger.Error("metrics server error", "error", err)
	}
}

// fatalExit reports a constructor failure and exits unstructured.
func fatalExit(logger *slog.Logger, path string, err error) {
	logger.Error("import setup failed", "error", err)
	printJSON(errorPayload{Error: err.Error(), File: filepath.Base(path)})
	os.Exit(1)
}

func exitCodeFor(kind ingest.FatalKind) int {
	switch kind {
	case ingest.KindFileNotFound:
		return exitFileNotFound
	case ingest.KindUnsupportedFormat, ingest.KindUnreadableWorkbook,
		ingest.KindUnreadableText, ingest.KindEmptySheet, ingest.KindParserTimeout:
		return exitResourceFailure
	default:
		return 1
	}
}

func printJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal output: %v\n", err)
		return
	}
	fmt.Println(string(payload))
}
