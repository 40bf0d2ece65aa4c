package main

import (
	"context"
	stderrors "errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/justsurfingit/jobtracker/internal/auth"
	"github.com/justsurfingit/jobtracker/internal/config"
	"github.com/justsurfingit/jobtracker/internal/database"
	"github.com/justsurfingit/jobtracker/internal/events"
	"github.com/justsurfingit/jobtracker/internal/handlers"
	"github.com/justsurfingit/jobtracker/internal/services"
	"github.com/justsurfingit/jobtracker/internal/telemetry"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
	"gorm.io/gorm"
)

const serviceName = "jobtracker-api"

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

func newDB(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	db, err := database.Connect(cfg.DBDriver, cfg.DBDSN, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db, nil
}

func newPublisher(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (events.Publisher, error) {
	if cfg.NATSURL == "" {
		logger.Info("NATS_URL not set, change events are not published")
		return events.Nop{}, nil
	}
	nc, err := events.Connect(cfg.NATSURL, serviceName, cfg.NATSConnTimeout)
	if err != nil {
		return nil, err
	}
	pub := events.NewNATSPublisher(nc, logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pub.Close()
			return nil
		},
	})
	return pub, nil
}

func newParseCache(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) services.ParseCache {
	if cfg.RedisAddr == "" {
		return services.NewMemoryParseCache()
	}
	rc := services.NewRedisParseCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := rc.Ping(ctx); err != nil {
				logger.Warn("redis unreachable, parse results will not be cached", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return rc.Close()
		},
	})
	return rc
}

// newLLMService returns nil when no Gemini key is configured.
func newLLMService(cfg *config.Config, cache services.ParseCache, logger *zap.Logger) (*services.LLMService, error) {
	llm, err := services.NewLLMService(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, cache, cfg.ParseCacheTTL, logger)
	if stderrors.Is(err, services.ErrNoParser) {
		logger.Warn("GEMINI_API_KEY not set, AI parsing and mail classification are disabled")
		return nil, nil
	}
	return llm, err
}

// The interfaces must stay nil, not hold a nil pointer, when the LLM is off.
func newParser(llm *services.LLMService) services.Parser {
	if llm == nil {
		return nil
	}
	return llm
}

func newClassifier(llm *services.LLMService) services.StatusClassifier {
	if llm == nil {
		return nil
	}
	return llm
}

func newMailSource(cfg *config.Config, logger *zap.Logger) (services.MailSource, error) {
	if cfg.GmailCredentialsFile == "" {
		return nil, nil
	}
	ctx := context.Background()
	httpClient, err := auth.NewGmailClient(ctx, cfg.GmailCredentialsFile, cfg.GmailTokenFile)
	if stderrors.Is(err, auth.ErrNoToken) {
		logger.Warn("no gmail token, run with -gmail-auth first", zap.String("token_file", cfg.GmailTokenFile))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}
	logger.Info("gmail service connected")
	return services.NewGmailSource(svc, logger), nil
}

func newUploadService(cfg *config.Config, logger *zap.Logger) (*services.UploadService, error) {
	return services.NewUploadService(cfg.UploadDir, logger)
}

func newRouter(cfg *config.Config, h *handlers.JobHandler, logger *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return handlers.NewRouter(handlers.RouterConfig{
		UploadDir:    cfg.UploadDir,
		AllowOrigins: cfg.CORSAllowOrigins,
		Production:   cfg.IsProduction(),
	}, h, logger)
}

func registerTracer(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) error {
	shutdown, err := telemetry.InitTracer(context.Background(), serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	if cfg.OTLPEndpoint != "" {
		logger.Info("tracing enabled", zap.String("endpoint", cfg.OTLPEndpoint))
	}
	lc.Append(fx.Hook{OnStop: shutdown})
	return nil
}

func registerHTTPServer(lc fx.Lifecycle, cfg *config.Config, router *gin.Engine, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info("server starting", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
					logger.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func registerMailWatcher(lc fx.Lifecycle, cfg *config.Config, emails *services.EmailService) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			emails.StartWatcher(cfg.MailSyncInterval)
			return nil
		},
		OnStop: func(context.Context) error {
			emails.StopWatcher()
			return nil
		},
	})
}

func runGmailAuth() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	oauthCfg, err := auth.LoadConfig(cfg.GmailCredentialsFile)
	if err != nil {
		return err
	}
	return auth.Authorize(context.Background(), oauthCfg, cfg.GmailTokenFile, os.Stdin, os.Stdout)
}

func main() {
	gmailAuth := flag.Bool("gmail-auth", false, "authorize Gmail access, save the token and exit")
	flag.Parse()

	if *gmailAuth {
		if err := runGmailAuth(); err != nil {
			log.Fatal(err)
		}
		return
	}

	app := fx.New(
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger}
		}),
		fx.Provide(
			config.Load,
			newLogger,
			newDB,
			newPublisher,
			newParseCache,
			newLLMService,
			newParser,
			newClassifier,
			newMailSource,
			newUploadService,
			services.NewJobService,
			services.NewMatcherService,
			services.NewEmailService,
			handlers.NewJobHandler,
			newRouter,
		),
		fx.Invoke(
			registerTracer,
			registerHTTPServer,
			registerMailWatcher,
		),
	)

	if err := app.Start(context.Background()); err != nil {
		log.Fatal(err)
	}

	<-app.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		log.Fatal(err)
	}
}
