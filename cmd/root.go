package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/voxsend/vox-relay/artifacts"
	"github.com/voxsend/vox-relay/audit"
	"github.com/voxsend/vox-relay/channels"
	"github.com/voxsend/vox-relay/channels/email"
	"github.com/voxsend/vox-relay/channels/sms"
	coreconfig "github.com/voxsend/vox-relay/core/config"
	coreDB "github.com/voxsend/vox-relay/core/database"
	"github.com/voxsend/vox-relay/pkg/jobworker"
	"github.com/voxsend/vox-relay/pkg/utils"
	"github.com/voxsend/vox-relay/scheduler/application"
	"github.com/voxsend/vox-relay/scheduler/domain"
	"github.com/voxsend/vox-relay/scheduler/repository"
	"github.com/voxsend/vox-relay/scheduler/usecase"
	"golang.org/x/time/rate"
)

var (
	jobRepo    domain.IJobRepository
	jobUsecase *usecase.JobUsecase
	poller     *application.Poller
	workerPool *jobworker.Pool
	auditSink  audit.Sink
)

var rootCmd = &cobra.Command{
	Use:   "vox-relay",
	Short: "Scheduled delivery engine for voice-note messages",
	Long: `vox-relay reliably executes "deliver this content at time T to
recipient R via channel(s) C" requests: it polls a durable job store,
claims due jobs safely across concurrent workers, resolves a
time-limited listen link and delivers it over email and/or SMS with
bounded retries.`,
}

func init() {
	utils.LoadConfig(".")
	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	initFlags()
	cobra.OnInitialize(initEnvConfig, initApp)
}

func initFlags() {
	rootCmd.PersistentFlags().StringP(
		"port", "p", "",
		"change port number with --port <number> | example: --port=8080",
	)
	rootCmd.PersistentFlags().BoolP(
		"debug", "d", false,
		"hide or displaying log with --debug <true/false> | example: --debug=true",
	)
	rootCmd.PersistentFlags().String(
		"poll-interval", "",
		`poll interval for the delivery engine --poll-interval <duration> | example: --poll-interval=30s`,
	)
	rootCmd.PersistentFlags().Int(
		"batch-size", 0,
		"max jobs claimed per tick --batch-size <number> | example: --batch-size=100",
	)

	_ = viper.BindPFlag("app_port", rootCmd.PersistentFlags().Lookup("port"))
	_ = viper.BindPFlag("app_debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("scheduler_poll_interval", rootCmd.PersistentFlags().Lookup("poll-interval"))
	_ = viper.BindPFlag("scheduler_batch_size", rootCmd.PersistentFlags().Lookup("batch-size"))
}

// initEnvConfig promotes viper-bound flags into process env so LoadConfig
// sees one consistent source.
func initEnvConfig() {
	if v := viper.GetString("app_port"); v != "" {
		os.Setenv("APP_PORT", v)
	}
	if viper.GetBool("app_debug") {
		os.Setenv("APP_DEBUG", "true")
	}
	if v := viper.GetString("scheduler_poll_interval"); v != "" {
		os.Setenv("SCHEDULER_POLL_INTERVAL", v)
	}
	if v := viper.GetInt("scheduler_batch_size"); v > 0 {
		os.Setenv("SCHEDULER_BATCH_SIZE", fmt.Sprintf("%d", v))
	}
}

func initApp() {
	cfg, err := coreconfig.LoadConfig()
	if err != nil {
		logrus.Fatalf("failed to load configuration: %v", err)
	}

	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if err := os.MkdirAll(cfg.Paths.Storages, 0o755); err != nil {
		logrus.Errorln(err)
	}

	db, err := coreDB.NewDatabase(cfg)
	if err != nil {
		logrus.Fatalf("failed to open database: %v", err)
	}

	repo := repository.NewJobGormRepository(db)
	if err := repo.Init(rootCmd.Context()); err != nil {
		logrus.Fatalf("failed to init job repository: %v", err)
	}
	jobRepo = repo

	auditSink = buildAuditSink(cfg)
	jobUsecase = usecase.NewJobUsecase(jobRepo, auditSink, cfg.Scheduler.MaxAttempts)

	resolver, err := artifacts.NewS3Resolver(cfg.Artifacts)
	if err != nil {
		logrus.Fatalf("failed to init artifact resolver: %v", err)
	}

	senders := buildSenders(cfg)
	limiters := map[domain.Channel]*rate.Limiter{
		domain.ChannelEmail: rate.NewLimiter(rate.Limit(cfg.Scheduler.EmailPerSecond), 1),
		domain.ChannelSMS:   rate.NewLimiter(rate.Limit(cfg.Scheduler.SMSPerSecond), 1),
	}

	dispatcher := application.NewDispatcher(resolver, senders, limiters, cfg.Artifacts.LinkTTL, cfg.Scheduler.SendTimeout)
	controller := application.NewLifecycleController(jobRepo, auditSink, cfg.Scheduler.RetryBackoffBase)

	workerPool = jobworker.NewPool(cfg.Scheduler.WorkerPoolSize, cfg.Scheduler.WorkerQueueSize)

	serverID := utils.GetPersistentServerID(cfg.App.ServerID, cfg.Paths.Storages)

	poller = application.NewPoller(jobRepo, dispatcher, controller, workerPool, auditSink, cfg.Scheduler, serverID)
}

// buildSenders wires a sender per channel. A channel without credentials is
// left out; jobs requesting it fail permanently with a clear error instead
// of eating the retry budget.
func buildSenders(cfg *coreconfig.Config) map[domain.Channel]channels.Sender {
	senders := make(map[domain.Channel]channels.Sender)

	emailSender, err := email.NewSender(cfg.Email)
	if err != nil {
		logrus.WithError(err).Warn("[APP] Email channel disabled")
	} else {
		senders[domain.ChannelEmail] = channels.WithBreaker("email", emailSender)
	}

	smsSender, err := sms.NewGatewaySender(cfg.SMS)
	if err != nil {
		logrus.WithError(err).Warn("[APP] SMS channel disabled")
	} else {
		senders[domain.ChannelSMS] = channels.WithBreaker("sms", smsSender)
	}

	return senders
}

func buildAuditSink(cfg *coreconfig.Config) audit.Sink {
	sinks := audit.MultiSink{audit.LogSink{}}
	if len(cfg.Audit.WebhookURLs) > 0 {
		urls := make([]string, 0, len(cfg.Audit.WebhookURLs))
		for _, u := range cfg.Audit.WebhookURLs {
			if trimmed := strings.TrimSpace(u); trimmed != "" {
				urls = append(urls, trimmed)
			}
		}
		sinks = append(sinks, audit.NewWebhookSink(urls, cfg.Audit.WebhookSecret))
	}
	return sinks
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
