package publisher

import (
	"context"
	"errors"
	"fmt"
)

// RecoverKind tags a compensating action.
type RecoverKind string

const (
	// KindRestage re-adds Paths to the index.
	KindRestage RecoverKind = "restage"
	// KindUnstage clears the index, keeping the working tree.
	KindUnstage RecoverKind = "unstage"
	// KindResetToAnchor moves HEAD back to Ref using the configured reset mode.
	// An empty Ref (repository without commits) makes it a no-op.
	KindResetToAnchor RecoverKind = "reset_to_anchor"
)

// RecoverTask describes one compensating action queued after a mutating step
// succeeded.
type RecoverTask struct {
	Kind  RecoverKind
	Name  string
	Hint  string
	Paths []string
	Ref   string
}

// recoverQueue is a LIFO of compensating actions.
type recoverQueue struct {
	tasks []RecoverTask
}

func (q *recoverQueue) push(t RecoverTask) {
	q.tasks = append(q.tasks, t)
}

func (q *recoverQueue) clear() {
	q.tasks = nil
}

func (q *recoverQueue) len() int {
	return len(q.tasks)
}

// drain runs queued tasks newest first. Each task is isolated: its failure is
// reported and collected, and the next task still runs. The queue is empty
// afterwards.
func (p *Publisher) drain(ctx context.Context, q *recoverQueue) []error {
	var errs []error
	for i := len(q.tasks) - 1; i >= 0; i-- {
		task := q.tasks[i]
		step := "publisher.recover." + task.Name

		p.hint.Start(step, task.Hint)
		err := p.hooks.OnRecover(ctx, task)
		if err == nil {
			err = p.execute(ctx, task)
		}
		if p.metrics != nil {
			p.metrics.RecordRecover(ctx, string(task.Kind), err == nil)
		}
		if err != nil {
			err = fmt.Errorf("recover %s: %w", task.Name, err)
			p.hint.Fail(step, err)
			p.logger.Warn("Recover task failed", "task", task.Name, "kind", task.Kind, "error", err)
			errs = append(errs, err)
			continue
		}
		p.hint.Succeed(step)
		p.logger.Info("Recover task done", "task", task.Name, "kind", task.Kind)
	}
	q.clear()
	return errs
}

// execute interprets a single task against the transport.
func (p *Publisher) execute(ctx context.Context, task RecoverTask) error {
	switch task.Kind {
	case KindRestage:
		return p.git.Add(ctx, task.Paths)
	case KindUnstage:
		return p.git.ResetMixed(ctx, "")
	case KindResetToAnchor:
		if task.Ref == "" {
			return nil
		}
		if p.cfg.ResetMode == ResetHard {
			return p.git.ResetHard(ctx, task.Ref)
		}
		return p.git.ResetMixed(ctx, task.Ref)
	default:
		return errors.New("unknown recover task kind " + string(task.Kind))
	}
}
