package scheduler

import (
	"context"
	"fmt"
	"time"

	"autotext_backend/platform/config"
	"autotext_backend/platform/logger"

	"github.com/robfig/cron/v3"
)

// scoreRefreshSchedule runs the nightly score sweep during quiet hours.
const scoreRefreshSchedule = "0 3 * * *"

// Trigger periodically enqueues the recurring background tasks. It lives
// in the dispatcher process next to the worker; queue uniqueness keeps
// multiple trigger instances from stacking duplicate cycles.
type Trigger struct {
	cron   *cron.Cron
	client *Client
	log    *logger.Logger
}

func NewTrigger(cfg config.SchedulerConfig, client *Client, log *logger.Logger) (*Trigger, error) {
	interval := cfg.GetDispatchInterval()
	if interval < time.Minute {
		interval = time.Minute
	}

	t := &Trigger{
		cron:   cron.New(),
		client: client,
		log:    log,
	}

	_, err := t.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		t.enqueueDispatch()
	})
	if err != nil {
		return nil, err
	}

	_, err = t.cron.AddFunc(scoreRefreshSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := t.client.EnqueueScoreRefresh(ctx); err != nil {
			t.log.Error("enqueue score refresh failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}

	return t, nil
}

func (t *Trigger) enqueueDispatch() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := t.client.EnqueueDispatchCycle(ctx, time.Now()); err != nil {
		t.log.Error("enqueue dispatch cycle failed", "error", err)
	}
}

// Start launches the trigger and fires one immediate cycle so a freshly
// started dispatcher does not idle until the first tick.
func (t *Trigger) Start() {
	t.enqueueDispatch()
	t.cron.Start()
}

// Stop halts the trigger and waits for any in-flight enqueue to finish.
func (t *Trigger) Stop() {
	<-t.cron.Stop().Done()
}
