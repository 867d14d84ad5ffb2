// Package runner turns prober invocations into trigger results and recorded runs.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"

	v1 "github.com/prh-dash/dash-status/api/v1"
	"github.com/prh-dash/dash-status/internal/metrics"
	"github.com/prh-dash/dash-status/internal/prober"
	"github.com/prh-dash/dash-status/internal/runstore"
)

// ErrUnexpectedStatus is returned by the scheduled and manual triggers when a
// target's main document did not load with status 200.
var ErrUnexpectedStatus = errors.New("unexpected status code")

// Prober is the part of *prober.Prober the runner depends on.
type Prober interface {
	Run(ctx context.Context) (*prober.Result, error)
	Targets() []string
}

// Runner executes prober invocations for every trigger and records them.
type Runner struct {
	prober  Prober
	store   runstore.RunStorage
	maxRuns int

	now   func() time.Time
	newID func() uuid.UUID
}

type Option func(*Runner)

// WithMaxRuns keeps at most n runs in the store; 0 keeps everything.
func WithMaxRuns(n int) Option {
	return func(r *Runner) {
		if n >= 0 {
			r.maxRuns = n
		}
	}
}

// New creates a Runner. A nil store disables run recording.
func New(p Prober, store runstore.RunStorage, opts ...Option) (*Runner, error) {
	if p == nil {
		return nil, errors.New("prober is required")
	}
	r := &Runner{
		prober: p,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.New,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Targets returns the ordered target list of the underlying prober.
func (r *Runner) Targets() []string {
	return r.prober.Targets()
}

// Fetch runs the prober and, on success, returns the comma-joined target list.
func (r *Runner) Fetch(ctx context.Context) (string, error) {
	_, err := r.invoke(ctx, v1.Fetch, nil)
	if err != nil {
		return "", err
	}
	return prober.JoinTargets(r.prober.Targets()), nil
}

// Scheduled runs the prober and fails unless every visited target answered 200.
func (r *Runner) Scheduled(ctx context.Context) error {
	_, err := r.invoke(ctx, v1.Scheduled, nil)
	return err
}

// Trigger runs the scheduled semantics under the given trigger and returns the
// recorded run. The run is returned even when the invocation failed.
func (r *Runner) Trigger(ctx context.Context, trigger v1.Trigger, userLabels map[string]string) (*v1.RunObject, error) {
	return r.invoke(ctx, trigger, userLabels)
}

func (r *Runner) invoke(ctx context.Context, trigger v1.Trigger, userLabels map[string]string) (*v1.RunObject, error) {
	targets := r.prober.Targets()
	startedAt := r.now()
	start := time.Now()

	result, err := r.prober.Run(ctx)
	if err == nil && trigger != v1.Fetch {
		err = checkStatuses(result)
	}
	elapsed := time.Since(start)

	run := buildRun(r.newID(), trigger, startedAt, startedAt.Add(elapsed), targets, result, err)
	if len(userLabels) > 0 {
		runLabels := v1.LabelsSchema{}
		for k, v := range userLabels {
			runLabels[k] = v
		}
		run.Labels = &runLabels
	}

	metrics.RecordProbeRun(string(trigger), string(run.Status), elapsed)
	if result != nil {
		for _, visit := range result.Visits {
			metrics.RecordTargetVisit(visit.URL, visit.Err == nil && visit.StatusCode == http.StatusOK, visit.Duration)
		}
	}

	if err != nil {
		log.Printf("Probe run %s (%s) failed after %s: %v", run.Id, trigger, elapsed.Round(time.Millisecond), err)
	} else {
		log.Printf("Probe run %s (%s) succeeded in %s", run.Id, trigger, elapsed.Round(time.Millisecond))
	}

	// Recording must not depend on the caller still waiting for the result.
	stored := r.record(context.WithoutCancel(ctx), run)
	return stored, err
}

func (r *Runner) record(ctx context.Context, run v1.RunObject) *v1.RunObject {
	if r.store == nil {
		return &run
	}

	stored, err := r.store.CreateRun(ctx, run)
	if err != nil {
		log.Printf("Warning: failed to record probe run %s: %v", run.Id, err)
		return &run
	}
	r.prune(ctx)
	return stored
}

// prune deletes the oldest runs beyond maxRuns.
func (r *Runner) prune(ctx context.Context) {
	if r.maxRuns <= 0 {
		return
	}
	runs, err := r.store.ListRuns(ctx, runstore.BaseSelector())
	if err != nil {
		log.Printf("Warning: failed to list runs for retention: %v", err)
		return
	}
	if len(runs) <= r.maxRuns {
		return
	}
	for _, old := range runs[r.maxRuns:] {
		if err := r.store.DeleteRun(ctx, old.Id); err != nil && !k8serrors.IsNotFound(err) {
			log.Printf("Warning: failed to delete expired run %s: %v", old.Id, err)
		}
	}
}

func checkStatuses(result *prober.Result) error {
	for _, visit := range result.Visits {
		if visit.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, visit.URL, visit.StatusCode)
		}
	}
	return nil
}

func buildRun(id uuid.UUID, trigger v1.Trigger, startedAt, finishedAt time.Time, targets []string, result *prober.Result, runErr error) v1.RunObject {
	run := v1.RunObject{
		Id:         id,
		Trigger:    trigger,
		Status:     v1.Succeeded,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Targets:    targets,
		Visits:     []v1.VisitObject{},
	}
	if result != nil {
		for _, visit := range result.Visits {
			run.Visits = append(run.Visits, toVisitObject(visit))
		}
	}
	if runErr != nil {
		msg := runErr.Error()
		run.Status = v1.Failed
		run.Error = &msg
	}
	return run
}

func toVisitObject(visit prober.Visit) v1.VisitObject {
	obj := v1.VisitObject{
		Url:             visit.URL,
		StatusCode:      visit.StatusCode,
		ScreenshotBytes: visit.ScreenshotBytes,
		DurationMs:      visit.Duration.Milliseconds(),
	}
	if visit.Err != nil {
		msg := visit.Err.Error()
		obj.Error = &msg
	}
	return obj
}
