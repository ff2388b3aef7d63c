package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/quillforge/quillforge/internal/api"
	"github.com/quillforge/quillforge/internal/checkpoint"
	"github.com/quillforge/quillforge/internal/config"
	"github.com/quillforge/quillforge/internal/metrics"
	"github.com/quillforge/quillforge/internal/orchestrator"
	"github.com/quillforge/quillforge/internal/prefs"
	"github.com/quillforge/quillforge/internal/snapshot"
	"github.com/quillforge/quillforge/internal/store"
	"github.com/quillforge/quillforge/internal/stream"
	"github.com/quillforge/quillforge/pkg/models"
)

// Preference keys. last.run.* values describe the most recent run under
// the current strategy, so they are scoped to last.strategy and cleared
// when it changes.
const (
	prefLastStrategy  = "last.strategy"
	prefLastRunPrefix = "last.run."
)

// Snapshot cache key for the aggregate session statistics view.
const (
	statsSubject = "sessions"
	statsType    = "status_counts"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	verbose    bool
	rawInput   string
	strategy   string
	angleIndex int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quillforge",
		Short: "QuillForge - generative content pipeline orchestrator",
		Long: `QuillForge drives a multi-stage content-generation workflow:
source selection, angle generation, ingredient refinement, outline
generation and full-content writing, resumable across restarts.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the content pipeline end to end",
		Long: `Run the complete content pipeline:
1. Generate angles from the source input
2. Select an angle and refine its ingredients
3. Generate an outline
4. Write the full content`,
		RunE: runPipeline,
	}
	runCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	runCmd.Flags().StringVar(&rawInput, "input", "", "Raw idea, article URL or transcript text")
	runCmd.Flags().StringVar(&strategy, "strategy", "raw_idea", "Source strategy: raw_idea, article, transcript")
	runCmd.Flags().IntVar(&angleIndex, "angle", 0, "Index of the angle to select")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	resumeCmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume a persisted session",
		Long:  "Restore a session record from the durable store and continue from the furthest stage that has data",
		Args:  cobra.ExactArgs(1),
		RunE:  resumeSession,
	}
	resumeCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	resumeCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage persisted sessions",
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted sessions",
		RunE:  listSessions,
	}
	listCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	inspectCmd := &cobra.Command{
		Use:   "inspect <session-id>",
		Short: "Inspect a persisted session",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectSession,
	}
	inspectCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate session statistics",
		Long:  "Counts of persisted sessions by lifecycle status, served from the snapshot cache while it is fresh",
		RunE:  sessionStats,
	}
	statsCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	sessionsCmd.AddCommand(listCmd)
	sessionsCmd.AddCommand(inspectCmd)
	sessionsCmd.AddCommand(statsCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(sessionsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the wired components shared by all commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	sessions  *store.SessionStore
	streams   *stream.Client
	coord     *checkpoint.Coordinator
	snapshots *snapshot.Cache
	prefs     *prefs.Store
	close     func()
}

func buildApp() (*app, error) {
	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	collector := metrics.NewCollector(logger)
	apiClient := api.NewClient(cfg.Service, secrets.APIKey, collector, logger)
	streams := stream.NewClient(apiClient, cfg.Service.StreamingEnabled(), collector, logger)
	sessions := store.NewSessionStore(db)
	coord := checkpoint.NewCoordinator(sessions, collector, logger)
	snapshots := snapshot.NewCache(store.NewSnapshotStore(db), collector, logger)
	preferences := prefs.NewStore(store.NewPreferenceStore(db), map[string][]string{
		prefLastStrategy: {prefLastRunPrefix},
	}, logger)

	return &app{
		cfg:       cfg,
		logger:    logger,
		sessions:  sessions,
		streams:   streams,
		coord:     coord,
		snapshots: snapshots,
		prefs:     preferences,
		close:     func() { _ = db.Close() },
	}, nil
}

// noteSessionChange erodes the stats snapshot budget after the session
// set was mutated. Best effort, like the checkpoint writes themselves.
func (a *app) noteSessionChange(ctx context.Context) {
	if err := a.snapshots.DecrementBudget(ctx, statsSubject, statsType); err != nil {
		a.logger.Warn("Failed to erode stats snapshot budget", "error", err)
	}
}

func runPipeline(cmd *cobra.Command, args []string) error {
	if rawInput == "" {
		return fmt.Errorf("--input is required")
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info("QuillForge starting", "version", Version, "config", configPath)

	// An explicit --strategy wins; otherwise reuse the last run's choice
	if !cmd.Flags().Changed("strategy") {
		if saved, err := a.prefs.Get(ctx, prefLastStrategy); err == nil && saved != "" {
			strategy = saved
			a.logger.Debug("Using last-run strategy", "strategy", strategy)
		}
	}

	orch := orchestrator.New(a.cfg, a.streams, a.coord, a.logger)
	orch.SetSource(models.SourceStrategy(strategy), models.ContentType(a.cfg.Pipeline.ContentType), rawInput)
	attachProgressBar(orch)

	angles, err := orch.GenerateAngles(ctx)
	if err != nil {
		return fmt.Errorf("angle generation failed: %w", err)
	}
	fmt.Printf("\nGenerated %d angles:\n", len(angles))
	for i, angle := range angles {
		fmt.Printf("  [%d] %s\n", i, angle.Title)
	}

	if angleIndex >= len(angles) {
		return fmt.Errorf("--angle %d out of range", angleIndex)
	}
	if err := orch.SelectAngle(ctx, angleIndex); err != nil {
		return err
	}
	fmt.Printf("\nSelected angle: %s\n", angles[angleIndex].Title)

	if err := orch.RefineIngredients(ctx); err != nil {
		return err
	}

	outline, err := orch.GenerateOutline(ctx)
	if err != nil {
		return fmt.Errorf("outline generation failed: %w", err)
	}
	fmt.Printf("\nOutline: %s (%d sections)\n", outline.Title, len(outline.Sections))

	content, err := orch.WriteContent(ctx)
	if err != nil {
		return fmt.Errorf("content writing failed: %w", err)
	}
	if err := orch.Complete(ctx); err != nil {
		a.logger.Warn("Failed to mark session completed", "error", err)
	}

	if err := a.prefs.Set(ctx, prefLastStrategy, strategy); err != nil {
		a.logger.Warn("Failed to save strategy preference", "error", err)
	}
	if err := a.prefs.Set(ctx, prefLastRunPrefix+"session", orch.State().SessionID()); err != nil {
		a.logger.Warn("Failed to save last-run preference", "error", err)
	}
	a.noteSessionChange(ctx)

	fmt.Printf("\n%s\n\n%s\n", content.Title, content.Body)
	fmt.Printf("\nSession: %s\n", orch.State().SessionID())
	return nil
}

func resumeSession(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := args[0]
	st, target, err := checkpoint.Restore(ctx, a.sessions, sessionID)
	if err != nil {
		return err
	}

	rec, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	a.coord.BindSession(rec)

	a.logger.Info("Session restored", "session_id", sessionID, "target_stage", target)
	fmt.Printf("Resuming session %s at stage %s\n", sessionID, target)

	orch := orchestrator.NewFromSession(a.cfg, a.streams, a.coord, st, a.logger)
	attachProgressBar(orch)

	if target == models.StageAngles {
		return fmt.Errorf("session %s has no selected angle; start a new run instead", sessionID)
	}

	// Continue forward from wherever the restored record left off
	if target == models.StageRefine {
		if st.Snapshot().ApprovedContext == nil {
			if err := orch.RefineIngredients(ctx); err != nil {
				return err
			}
		}
		target = models.StageOutline
	}
	if target == models.StageOutline && st.Snapshot().Outline == nil {
		if _, err := orch.GenerateOutline(ctx); err != nil {
			return fmt.Errorf("outline generation failed: %w", err)
		}
	}
	if st.Snapshot().WrittenContent == nil {
		content, err := orch.WriteContent(ctx)
		if err != nil {
			return fmt.Errorf("content writing failed: %w", err)
		}
		fmt.Printf("\n%s\n\n%s\n", content.Title, content.Body)
	} else {
		content := st.Snapshot().WrittenContent
		fmt.Printf("\n%s\n\n%s\n", content.Title, content.Body)
	}
	if err := orch.Complete(ctx); err != nil {
		a.logger.Warn("Failed to mark session completed", "error", err)
	}
	a.noteSessionChange(ctx)
	return nil
}

func listSessions(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	recs, err := a.sessions.List(context.Background(), 50)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}
	for _, rec := range recs {
		fmt.Printf("%s  %-12s  updated %s\n", rec.ID, rec.Status, rec.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func inspectSession(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	rec, err := a.sessions.Get(context.Background(), args[0])
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	fmt.Printf("\nRestore target: %s\n", checkpoint.RestoreTarget(rec))
	return nil
}

func sessionStats(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	ttl := time.Duration(a.cfg.Cache.DefaultTTLHours) * time.Hour
	payload, err := a.snapshots.GetOrCompute(ctx, "local", statsSubject, statsType,
		a.cfg.Cache.DefaultActionsBudget, ttl,
		func(ctx context.Context) (json.RawMessage, error) {
			counts, err := a.sessions.StatusCounts(ctx)
			if err != nil {
				return nil, err
			}
			return json.Marshal(counts)
		})
	if err != nil {
		return err
	}

	var counts map[string]int
	if err := json.Unmarshal(payload, &counts); err != nil {
		return fmt.Errorf("failed to decode stats snapshot: %w", err)
	}
	for _, status := range []models.SessionStatus{
		models.SessionInProgress,
		models.SessionCompleted,
		models.SessionAbandoned,
	} {
		fmt.Printf("%-12s %d\n", status, counts[string(status)])
	}
	return nil
}

// attachProgressBar renders stream progress events as a terminal bar.
func attachProgressBar(orch *orchestrator.Orchestrator) {
	var bar *progressbar.ProgressBar
	var lastPhase string
	orch.SetProgressObserver(func(p *api.ProgressPayload) {
		if bar == nil || p.Phase != lastPhase {
			bar = progressbar.NewOptions(100,
				progressbar.OptionSetDescription(p.Phase),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionClearOnFinish(),
			)
			lastPhase = p.Phase
		}
		_ = bar.Set(int(p.Percent))
	})
}
