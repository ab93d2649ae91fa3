package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/txsentry/txsentry/internal/harness"
	"github.com/txsentry/txsentry/internal/owner"
	"github.com/txsentry/txsentry/internal/pipeline"
	"github.com/txsentry/txsentry/internal/server"
)

var (
	servePort          int
	servePolicy        string
	serveSmokeCorpus   string
	serveSmokeSchedule string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP decision API",
	Long: `Serves POST /v1/decisions plus the audit read API. With --smoke-corpus,
replays the given corpus on a cron schedule and logs the scores, catching
policy or pattern regressions in a running deployment.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port")
	serveCmd.Flags().StringVar(&servePolicy, "policy", "", "policy limits file (default: from config)")
	serveCmd.Flags().StringVar(&serveSmokeCorpus, "smoke-corpus", "", "corpus JSON to replay on a schedule (optional)")
	serveCmd.Flags().StringVar(&serveSmokeSchedule, "smoke-schedule", "0 * * * *", "cron schedule for smoke corpus replay")
	rootCmd.AddCommand(serveCmd)
}

// parseAPIKeys returns a map of key -> owner_id from TXSENTRY_API_KEYS
// (comma-separated; each entry key or key:owner_id).
func parseAPIKeys(env string) map[string]string {
	m := make(map[string]string)
	if env == "" {
		return m
	}
	for _, part := range strings.Split(env, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ownerID := "default"
		if idx := strings.Index(part, ":"); idx > 0 {
			ownerID = strings.TrimSpace(part[idx+1:])
			part = strings.TrimSpace(part[:idx])
		}
		m[part] = ownerID
	}
	return m
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, store, cfg, err := buildPipeline(ctx, servePolicy, true)
	if err != nil {
		return err
	}
	defer store.Close()

	apiKeys := parseAPIKeys(os.Getenv("TXSENTRY_API_KEYS"))
	if len(apiKeys) == 0 {
		log.Warn().Msg("TXSENTRY_API_KEYS not set; all API requests will be rejected")
	}

	ownerManager := owner.NewManager(ownersFromKeys(apiKeys), store)
	srv := server.NewServer(p, store, apiKeys, server.WithOwnerManager(ownerManager))

	var scheduler *cron.Cron
	if serveSmokeCorpus != "" {
		scheduler = cron.New()
		if err := registerSmokeReplay(scheduler, p, cfg.DataDir); err != nil {
			return err
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", servePort),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", servePort).
			Str("policy_version", p.PolicyVersion()).
			Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

// ownersFromKeys derives default owner entries (rate limit 10 rps) for every
// owner id an API key maps to.
func ownersFromKeys(apiKeys map[string]string) []owner.Owner {
	seen := make(map[string]bool)
	var owners []owner.Owner
	for _, id := range apiKeys {
		if seen[id] {
			continue
		}
		seen[id] = true
		owners = append(owners, owner.Owner{ID: id, RateLimit: 10})
	}
	return owners
}

// registerSmokeReplay schedules periodic corpus replays. The runner already
// isolates each case, so replays never touch live window state or audit data.
func registerSmokeReplay(scheduler *cron.Cron, p *pipeline.Pipeline, dataDir string) error {
	_, err := scheduler.AddFunc(serveSmokeSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		cases, err := harness.LoadCorpus(serveSmokeCorpus)
		if err != nil {
			log.Error().Err(err).Str("corpus", serveSmokeCorpus).Msg("smoke corpus load failed")
			return
		}
		runner := harness.NewRunner(p, 4, 0)
		results, runErr := runner.Run(ctx, cases)
		suite := strings.TrimSuffix(filepath.Base(serveSmokeCorpus), filepath.Ext(serveSmokeCorpus))
		report := harness.NewReport(suite, p.PolicyVersion(), len(cases), results, runErr != nil)
		if _, err := report.Write(dataDir); err != nil {
			log.Error().Err(err).Msg("smoke report write failed")
			return
		}
		log.Info().
			Str("run_id", report.RunID).
			Float64("asr", report.Metrics.ASR).
			Float64("fp", report.Metrics.FP).
			Int("errored", report.Metrics.Errored).
			Msg("smoke corpus replayed")
	})
	if err != nil {
		return fmt.Errorf("registering smoke schedule %q: %w", serveSmokeSchedule, err)
	}
	return nil
}
