package app

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/presgrade-backend/internal/clients/gcp"
	"github.com/yungbote/presgrade-backend/internal/clients/openai"
	"github.com/yungbote/presgrade-backend/internal/clients/redis"
	"github.com/yungbote/presgrade-backend/internal/grading"
	"github.com/yungbote/presgrade-backend/internal/handlers"
	"github.com/yungbote/presgrade-backend/internal/orchestrator"
	"github.com/yungbote/presgrade-backend/internal/platform/logger"
	"github.com/yungbote/presgrade-backend/internal/reconcile"
	"github.com/yungbote/presgrade-backend/internal/repos"
	"github.com/yungbote/presgrade-backend/internal/retrieval"
	"github.com/yungbote/presgrade-backend/internal/server"
	"github.com/yungbote/presgrade-backend/internal/store"
)

// App wires the record store, clients, repos and HTTP surface together. The
// AI-facing clients are optional at startup: a missing OpenAI key or GCP
// credential degrades the corresponding endpoints rather than refusing to
// boot, which keeps local development on the in-memory store painless.
type App struct {
	Log    *logger.Logger
	Store  store.Store
	Router *gin.Engine
	Cfg    Config

	Repo         *repos.Repo
	Reconciler   *reconcile.Reconciler
	Orchestrator *orchestrator.Orchestrator
	Engine       *retrieval.Engine

	closers []func() error
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	a := &App{Log: log, Cfg: cfg}

	// Record store: redis when configured, in-memory otherwise.
	if os.Getenv("REDIS_ADDR") != "" {
		rs, err := redis.NewStore(log)
		if err != nil {
			log.Sync()
			return nil, fmt.Errorf("init redis: %w", err)
		}
		a.Store = rs
		a.closers = append(a.closers, rs.Close)
	} else {
		log.Warn("REDIS_ADDR not set, using in-memory record store")
		a.Store = store.NewMemoryStore()
	}

	var media gcp.MediaStore
	if os.Getenv("MEDIA_GCS_BUCKET_NAME") != "" {
		media, err = gcp.NewMediaStore(log)
		if err != nil {
			log.Warn("Could not init MediaStore", "error", err)
			media = nil
		} else {
			a.closers = append(a.closers, media.Close)
		}
	}

	var speech gcp.Speech
	speech, err = gcp.NewSpeech(log)
	if err != nil {
		log.Warn("Could not init Speech client", "error", err)
		speech = nil
	} else {
		a.closers = append(a.closers, speech.Close)
	}

	var ai openai.Client
	var grader grading.Service
	if os.Getenv("OPENAI_API_KEY") != "" {
		ai, err = openai.NewClient(log)
		if err != nil {
			log.Warn("Could not init OpenAI client", "error", err)
		} else {
			grader, err = grading.NewService(log, ai)
			if err != nil {
				log.Warn("Could not init grading service", "error", err)
			}
		}
	} else {
		log.Warn("OPENAI_API_KEY not set, grading and retrieval endpoints disabled")
	}

	a.Repo = repos.NewRepo(a.Store, media, log)
	a.Reconciler = reconcile.New(a.Store, a.Repo, log)

	if ai != nil {
		a.Engine = retrieval.NewEngine(a.Store, ai, log, &retrieval.Options{
			MinRelevance:          float64(cfg.MinRelevance100) / 100,
			MaxChunksPerCriterion: cfg.ChunksPerCriteria,
			MaxContextChars:       cfg.MaxContextChars,
		})
	}

	speechCfg := gcp.SpeechConfig{
		LanguageCode:               cfg.SpeechLanguage,
		Model:                      cfg.SpeechModel,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
		EnableSpeakerDiarization:   true,
		MinSpeakerCount:            1,
		MaxSpeakerCount:            cfg.MaxSpeakerCount,
	}
	a.Orchestrator, err = orchestrator.New(orchestrator.Config{
		Repo:       a.Repo,
		Reconciler: a.Reconciler,
		Media:      media,
		Speech:     speech,
		Grader:     grader,
		Engine:     a.Engine,
		Log:        log,
		SpeechCfg:  &speechCfg,
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}

	batchHandler := handlers.NewBatchHandler(log, a.Repo, a.Reconciler, a.Orchestrator)
	submissionHandler := handlers.NewSubmissionHandler(log, a.Repo, media)
	bundleHandler := handlers.NewBundleHandler(log, a.Engine)

	a.Router = server.NewRouter(server.RouterConfig{
		BatchHandler:      batchHandler,
		SubmissionHandler: submissionHandler,
		BundleHandler:     bundleHandler,
		AllowOrigins:      cfg.AllowOrigins,
	})

	return a, nil
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(":" + a.Cfg.Port)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.Log.Warn("Close failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
