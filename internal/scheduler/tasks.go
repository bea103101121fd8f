// Package scheduler provides the asynq-backed background job plumbing:
// the periodic dispatch trigger and the worker that consumes its tasks.
package scheduler

import (
	"github.com/hibiken/asynq"
)

// Dispatch tasks carry no payload: a cycle always scans everything due,
// so the stable (empty) payload also makes asynq uniqueness effective.
const TaskFollowupDispatch = "followup.dispatch"

const TaskScoreRefresh = "leads.score.refresh"

func NewFollowupDispatchTask() *asynq.Task {
	return asynq.NewTask(TaskFollowupDispatch, nil)
}

func NewScoreRefreshTask() *asynq.Task {
	return asynq.NewTask(TaskScoreRefresh, nil)
}
