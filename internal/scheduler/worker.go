package scheduler

import (
	"context"
	"fmt"

	"autotext_backend/internal/dispatch"
	"autotext_backend/platform/config"
	"autotext_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// ScoreRefresher recomputes lead scores in bulk.
type ScoreRefresher interface {
	RefreshAllScores(ctx context.Context) (int, error)
}

// Worker consumes background tasks: dispatch cycles and score sweeps.
type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	dispatcher *dispatch.Dispatcher
	scores     ScoreRefresher
	log        *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, d *dispatch.Dispatcher, scores ScoreRefresher, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:     server,
		mux:        mux,
		dispatcher: d,
		scores:     scores,
		log:        log,
	}

	mux.HandleFunc(TaskFollowupDispatch, w.handleFollowupDispatch)
	mux.HandleFunc(TaskScoreRefresh, w.handleScoreRefresh)

	return w, nil
}

func (w *Worker) handleFollowupDispatch(ctx context.Context, _ *asynq.Task) error {
	_, err := w.dispatcher.Run(ctx)
	return err
}

func (w *Worker) handleScoreRefresh(ctx context.Context, _ *asynq.Task) error {
	if w.scores == nil {
		return nil
	}

	updated, err := w.scores.RefreshAllScores(ctx)
	if err != nil {
		return err
	}

	w.log.Info("score refresh complete", "updated", updated)
	return nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
