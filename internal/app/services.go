package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/slidestream-backend/internal/jobs/runtime"
	"github.com/yungbote/slidestream-backend/internal/jobs/worker"
	"github.com/yungbote/slidestream-backend/internal/modules/auth"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/catalog"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/prompts"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/retrieval"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/scheduler"
	"github.com/yungbote/slidestream-backend/internal/modules/lectures/summaries"
	"github.com/yungbote/slidestream-backend/internal/observability"
	"github.com/yungbote/slidestream-backend/internal/pkg/logger"
	"github.com/yungbote/slidestream-backend/internal/pkg/singleton"
	"github.com/yungbote/slidestream-backend/internal/realtime"
	"github.com/yungbote/slidestream-backend/internal/temporalx/jobrun"
	"github.com/yungbote/slidestream-backend/internal/temporalx/temporalworker"
)

type Services struct {
	Verifier *auth.Verifier
	Emitter  *realtime.Emitter

	Streamer     *summaries.Streamer
	Conversation *summaries.Conversation
	Background   *summaries.BackgroundHandler
	Scheduler    *scheduler.Scheduler
	Catalog      *catalog.Service

	JobRegistry    *runtime.Registry
	JobWorker      *worker.Worker
	TemporalWorker *temporalworker.Runner
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repos Repos, clients Clients, hub *realtime.SSEHub, metrics *observability.Metrics, singletons *singleton.Registry) (Services, error) {
	log.Info("Wiring services...")

	verifier, err := auth.NewVerifier(log, cfg.Auth)
	if err != nil {
		return Services{}, fmt.Errorf("init token verifier: %w", err)
	}

	promptSet, err := prompts.Load()
	if err != nil {
		return Services{}, fmt.Errorf("load prompts: %w", err)
	}

	emitter := realtime.NewEmitter(log, hub, clients.SSEBus)

	retriever := retrieval.NewRetriever(repos.Slides)
	semantic := retrieval.NewSemanticRetriever(log, repos.Slides, clients.OpenAI, clients.Vectors)
	indexer := retrieval.NewIndexer(log, clients.OpenAI, clients.Vectors)
	titles := summaries.NewTitleInferer(log, clients.OpenAI, promptSet, repos.Lectures, emitter)

	background := summaries.NewBackgroundHandler(summaries.BackgroundDeps{
		Log:             log,
		Slides:          repos.Slides,
		Lectures:        repos.Lectures,
		Retriever:       retriever,
		Prompts:         promptSet,
		Provider:        clients.OpenAI,
		Titles:          titles,
		Indexer:         indexer,
		Events:          emitter,
		ContextMax:      cfg.ContextMax,
		FollowupTimeout: cfg.FollowupTimeout,
		ClaimTTL:        cfg.ClaimTTL,
	})

	registry := runtime.NewRegistry()
	jobWorker := worker.NewWorker(log, repos.JobRuns, registry, emitter, metrics, cfg.Worker)

	var dispatcher scheduler.Dispatcher
	var temporalWorker *temporalworker.Runner
	if clients.Temporal != nil {
		dispatcher = jobrun.NewDispatcher(log, clients.Temporal, cfg.Temporal.TaskQueue)
		temporalWorker, err = temporalworker.NewRunner(log, clients.Temporal, cfg.Temporal, repos.JobRuns, jobWorker, cfg.Worker.Concurrency)
		if err != nil {
			return Services{}, fmt.Errorf("init temporal worker: %w", err)
		}
	}

	sched, err := scheduler.New(scheduler.Deps{
		Log:        log,
		Lectures:   repos.Lectures,
		Jobs:       repos.JobRuns,
		Handlers:   registry,
		Singletons: singletons,
		Factory:    func() (runtime.Handler, error) { return background, nil },
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Config:     cfg.Scheduler,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init scheduler: %w", err)
	}

	streamer := summaries.NewStreamer(summaries.StreamerDeps{
		Log:             log,
		Slides:          repos.Slides,
		Lectures:        repos.Lectures,
		Retriever:       retriever,
		Prompts:         promptSet,
		Provider:        clients.OpenAI,
		Titles:          titles,
		Trigger:         sched,
		Indexer:         indexer,
		Events:          emitter,
		Metrics:         metrics,
		Fanout:          cfg.Scheduler.Fanout,
		ContextMax:      cfg.ContextMax,
		FollowupTimeout: cfg.FollowupTimeout,
	})

	conversation := summaries.NewConversation(summaries.ConversationDeps{
		Log:      log,
		Slides:   repos.Slides,
		Semantic: semantic,
		Prompts:  promptSet,
		Provider: clients.OpenAI,
		Metrics:  metrics,
	})

	lectureCatalog := catalog.New(catalog.Deps{
		Log:      log,
		DB:       db,
		Lectures: repos.Lectures,
		Slides:   repos.Slides,
		Jobs:     repos.JobRuns,
		Trigger:  sched,
		Vectors:  indexer,
		Cache:    sched,
		Fanout:   cfg.Scheduler.Fanout,
	})

	return Services{
		Verifier:       verifier,
		Emitter:        emitter,
		Streamer:       streamer,
		Conversation:   conversation,
		Background:     background,
		Scheduler:      sched,
		Catalog:        lectureCatalog,
		JobRegistry:    registry,
		JobWorker:      jobWorker,
		TemporalWorker: temporalWorker,
	}, nil
}
