// -----------------------------------------------------------------------
// siteaudit - Run a site audit from the command line or on a schedule
// -----------------------------------------------------------------------

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/siteaudit/internal/app"
	"github.com/ternarybob/siteaudit/internal/common"
	"github.com/ternarybob/siteaudit/internal/models"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	auditURL     = flag.String("url", "", "Site to audit; runs one audit and exits")
	maxPages     = flag.Int("max-pages", 0, "Page cap for this audit (overrides config)")
	forceNew     = flag.Bool("force", false, "Ignore any resumable crawl state and start fresh")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("siteaudit version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Initialize logger
	// 3. Print banner
	var err error

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("siteaudit.toml"); err == nil {
			configFiles = append(configFiles, "siteaudit.toml")
		}
	}

	config, err = common.LoadConfig(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger = common.InitLogger(config)
	common.PrintBanner(common.GetVersion())
	common.InstallCrashHandler(filepath.Join(config.Storage.AuditsDir, "logs"))
	defer common.RecoverWithCrashFile()

	logger.Debug().
		Str("badger_path", config.Storage.Badger.Path).
		Str("audits_dir", config.Storage.AuditsDir).
		Str("log_level", config.Logging.Level).
		Msg("Resolved configuration")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}

	application.Start()

	if *auditURL != "" {
		code := runSingleAudit(application)
		application.Close()
		os.Exit(code)
	}

	if len(config.Schedules) == 0 {
		application.Close()
		logger.Fatal().Msg("No -url given and no schedules configured; nothing to do")
	}

	logger.Info().
		Int("schedules", len(config.Schedules)).
		Msg("Running scheduled audits - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("Interrupt signal received, shutting down")
	application.Close()
}

// runSingleAudit enqueues one audit and streams its progress to stdout
// until the session reaches a terminal event.
func runSingleAudit(application *app.App) int {
	sessionID := "cli_" + uuid.New().String()

	job, err := application.JobQueue.Add(models.JobTypeFullAudit, models.AuditPayload{
		URL:       *auditURL,
		SessionID: sessionID,
		UserLimits: models.UserLimits{
			IsRegistered: true,
			MaxPages:     *maxPages,
		},
		MaxPages: *maxPages,
		ForceNew: *forceNew,
	})
	if err != nil {
		logger.Error().Err(err).Str("url", *auditURL).Msg("Failed to queue audit")
		return 1
	}

	logger.Info().
		Str("job_id", job.ID).
		Str("url", *auditURL).
		Msg("Audit queued")

	events := application.Sessions.Events(sessionID)
	if events == nil {
		logger.Error().Str("session_id", sessionID).Msg("Session has no event channel")
		return 1
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sigChan:
			logger.Info().Msg("Interrupted; audit abandoned")
			return 1
		case event := <-events:
			printEvent(event)
			switch event.Status {
			case models.ProgressCompleted:
				if event.Result != nil {
					printResult(event.Result)
				}
				return 0
			case models.ProgressError:
				return 1
			}
		}
	}
}

func printEvent(event models.ProgressEvent) {
	if event.CurrentURL != "" {
		fmt.Printf("[%5.1f%%] %s (%s)\n", event.Progress, event.Message, event.CurrentURL)
		return
	}
	fmt.Printf("[%5.1f%%] %s\n", event.Progress, event.Message)
}

func printResult(result *models.AuditResult) {
	fmt.Println()
	fmt.Printf("Audit of %s complete\n", result.Domain)
	fmt.Printf("  Pages crawled:    %d\n", result.PageCount)
	fmt.Printf("  Failed requests:  %d\n", result.FailedCount)
	fmt.Printf("  External links:   %d\n", result.ExternalCount)
	fmt.Printf("  Stored bytes:     %d (%.1f%% of raw)\n",
		result.Compression.CompressedBytes, result.Compression.Ratio*100)
	fmt.Printf("  Duration:         %s\n", result.ExecutionTime.Round(10*time.Millisecond))
}
