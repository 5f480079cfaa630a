package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iberi22/agentquery/internal/observability"
	"github.com/iberi22/agentquery/pkg/agentapi"
	"github.com/iberi22/agentquery/pkg/archive"
	"github.com/iberi22/agentquery/pkg/chat"
	"github.com/iberi22/agentquery/pkg/config"
	obsmetrics "github.com/iberi22/agentquery/pkg/observability"
	"github.com/iberi22/agentquery/pkg/prefs"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive query session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func runChat(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if metricsPort != 0 {
		cfg.MetricsPort = metricsPort
	}

	pp := prefsPath
	if pp == "" {
		if pp, err = prefs.DefaultPath(); err != nil {
			return err
		}
	}
	userPrefs, err := prefs.Load(pp)
	if err != nil {
		return err
	}
	if userPrefs.UserID == "" {
		userPrefs.UserID = cfg.UserID
	}

	// Observability
	obsmetrics.InitMetrics()
	if err := observability.InitFromEnv(); err != nil {
		log.Printf("Tracing disabled: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.Shutdown(shutdownCtx); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
	}()

	// Agent service client
	client := agentapi.NewClient(cfg.ServiceURL,
		agentapi.WithTimeout(cfg.RequestTimeout),
		agentapi.WithRateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
	)
	instrumented := agentapi.NewInstrumentedClient(client, userPrefs.EnableTracing)

	store := chat.NewStore()
	controller := chat.NewController(store, instrumented, chat.Options{
		MaxResearchIterations: userPrefs.MaxResearchIterations,
		EnableTracing:         userPrefs.EnableTracing,
		UseMemory:             userPrefs.UseMemory,
		UserID:                userPrefs.UserID,
		ProjectID:             userPrefs.ProjectID,
	})
	correlator := chat.NewCorrelator(store, instrumented, userPrefs.UserID)

	backend, err := openArchive(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	if backend != nil {
		defer backend.Close()
		controller.OnExchange(archiveHook(backend))
	}

	checker := obsmetrics.NewHealthChecker()
	checker.RegisterCheck(obsmetrics.PingCheck())
	if rb, ok := backend.(*archive.RedisBackend); ok {
		checker.RegisterCheck(&obsmetrics.HealthCheck{
			Name:      "redis",
			CheckFunc: rb.Ping,
			Critical:  false,
		})
	}
	obsServer := obsmetrics.NewServer(cfg.MetricsPort, checker)

	ctx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.EnableMetrics {
		g.Go(func() error {
			log.Printf("Metrics server listening on :%d", cfg.MetricsPort)
			if err := obsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return obsServer.Shutdown(shutdownCtx)
		})
	}

	if backend != nil && cfg.Archive.Retention > 0 {
		c := cron.New()
		retention := cfg.Archive.Retention
		if _, err := c.AddFunc(cfg.Archive.PruneSchedule, func() {
			pruneCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			n, err := archive.PruneBefore(pruneCtx, backend, time.Now().UTC().Add(-retention))
			if err != nil {
				log.Printf("Archive prune error: %v", err)
				return
			}
			if n > 0 {
				log.Printf("Pruned %d archived sessions", n)
			}
		}); err != nil {
			return fmt.Errorf("invalid prune schedule %q: %w", cfg.Archive.PruneSchedule, err)
		}
		c.Start()
		defer c.Stop()
	}

	g.Go(func() error {
		defer cancelAll() // REPL exit ends the whole group
		return repl(gctx, controller, correlator, userPrefs)
	})

	return g.Wait()
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, ".agentquery", "config.yaml")
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openArchive returns nil when archiving is disabled.
func openArchive(ctx context.Context, cfg config.ArchiveConfig) (archive.Backend, error) {
	switch cfg.Backend {
	case "none":
		return nil, nil
	case "file":
		return archive.NewFileBackend(cfg.Dir)
	case "redis":
		return archive.NewRedisBackend(archive.RedisConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			SessionTTL: cfg.RedisTTL,
		})
	case "firestore":
		return archive.NewFirestoreBackend(ctx, archive.FirestoreConfig{
			ProjectID:       cfg.GCPProject,
			CredentialsFile: cfg.GCPCredentials,
			Collection:      cfg.Collection,
		})
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", cfg.Backend)
	}
}

// archiveHook persists each completed exchange. Archive failures are
// logged, never surfaced into the session.
func archiveHook(backend archive.Backend) chat.ExchangeHook {
	return func(ctx context.Context, sessionID string, query, answer chat.Message) {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := backend.SaveExchange(saveCtx, &archive.Exchange{
			ID:           answer.ID,
			SessionID:    sessionID,
			Query:        query.Content,
			Answer:       answer.Content,
			QualityScore: answer.QualityScore,
			TraceID:      answer.TraceID,
			CreatedAt:    answer.Timestamp,
		})
		if err != nil {
			obsmetrics.RecordArchiveWrite(backend.Name(), "error")
			log.Printf("Archive write failed: %v", err)
			return
		}
		obsmetrics.RecordArchiveWrite(backend.Name(), "success")
	}
}

const replHelp = `Commands:
  /stop              cancel the in-flight query (Ctrl-C does too)
  /retry             resend the last query
  /clear             start a fresh session
  /feedback N [text] rate the last answer 1-5, with optional comment
  /history           show the session transcript
  /help              show this help
  /quit              exit`

func repl(ctx context.Context, controller *chat.Controller, correlator *chat.Correlator, p *prefs.Preferences) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	// Liner keeps the terminal raw while prompting, so Ctrl-C there
	// surfaces as ErrPromptAborted. During a blocking query the
	// terminal is cooked again and Ctrl-C arrives as a signal; it
	// stops the query, not the program.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	fmt.Printf("agentquery %s — session %s\n", Version, controller.Store().SessionID())
	fmt.Println(`Type a question, or /help for commands.`)

	done := make(chan struct{}, 1)

	for {
		if ctx.Err() != nil {
			return nil
		}

		input, err := line.Prompt("> ")
		if errors.Is(err, liner.ErrPromptAborted) {
			return nil
		}
		if err != nil { // io.EOF on Ctrl-D
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := runCommand(ctx, input, controller, correlator, p); quit {
				return nil
			}
			continue
		}

		// Send blocks until the query settles; run it in the
		// background so Ctrl-C can stop it.
		go func(q string) {
			controller.Send(ctx, q)
			done <- struct{}{}
		}(input)

	wait:
		for {
			select {
			case <-done:
				printLast(controller.Store(), p)
				break wait
			case <-sigCh:
				controller.Stop()
			case <-ctx.Done():
				controller.Stop()
				<-done
				return nil
			}
		}
	}
}

// runCommand handles a slash command; returns true to exit the REPL.
func runCommand(ctx context.Context, input string, controller *chat.Controller, correlator *chat.Correlator, p *prefs.Preferences) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Println(replHelp)
	case "/stop":
		controller.Stop()
	case "/retry":
		controller.RetryLast(ctx)
		printLast(controller.Store(), p)
	case "/clear":
		controller.Clear()
		fmt.Printf("Session cleared. New session %s\n", controller.Store().SessionID())
	case "/history":
		for _, m := range controller.Store().Messages() {
			fmt.Printf("[%s] %s\n", m.Role, m.Content)
		}
	case "/feedback":
		if len(fields) < 2 {
			fmt.Println("Usage: /feedback N [comment]")
			return false
		}
		rating, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || rating < 1 || rating > 5 {
			fmt.Println("Rating must be a number from 1 to 5.")
			return false
		}
		comment := strings.Join(fields[2:], " ")
		submitFeedback(ctx, controller.Store(), correlator, rating, comment)
	default:
		fmt.Printf("Unknown command %s; try /help\n", fields[0])
	}
	return false
}

func submitFeedback(ctx context.Context, store *chat.Store, correlator *chat.Correlator, rating float64, comment string) {
	var target *chat.Message
	msgs := store.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleAI && !msgs[i].Pending {
			target = &msgs[i]
			break
		}
	}
	if target == nil {
		fmt.Println("No answer to rate yet.")
		return
	}
	if err := correlator.SubmitFeedback(ctx, target.ID, rating, comment); err != nil {
		fmt.Printf("Feedback failed: %v\n", err)
		return
	}
	fmt.Println("Feedback recorded, thanks.")
}

func printLast(store *chat.Store, p *prefs.Preferences) {
	msgs := store.Messages()
	if len(msgs) == 0 {
		return
	}
	m := msgs[len(msgs)-1]
	if m.Role == chat.RoleHuman {
		// Placeholder was removed: the query was stopped.
		fmt.Println("Query stopped.")
		return
	}

	fmt.Println(m.Content)
	if m.Role != chat.RoleAI {
		return
	}
	if m.QualityScore > 0 {
		fmt.Printf("  quality: %.2f\n", m.QualityScore)
	}
	if p.ShowCitations && len(m.Citations) > 0 {
		fmt.Println("  sources:")
		for _, c := range m.Citations {
			fmt.Printf("    - %s %s\n", c.Title, c.URL)
		}
	}
}
