// Package runstore persists probe runs in one of several backends.
package runstore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"

	v1 "github.com/prh-dash/dash-status/api/v1"
	"github.com/prh-dash/dash-status/internal/metrics"
)

// RunStorage defines the interface for storing and retrieving probe runs.
// Every engine reports a missing run as a Kubernetes NotFound status error
// and a duplicate ID as AlreadyExists.
type RunStorage interface {
	// ListRuns returns the runs matching a label selector, newest first.
	ListRuns(ctx context.Context, selector string) ([]v1.RunObject, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*v1.RunObject, error)
	CreateRun(ctx context.Context, run v1.RunObject) (*v1.RunObject, error)
	DeleteRun(ctx context.Context, runID uuid.UUID) error
}

// BaseSelector matches every run written by this service.
func BaseSelector() string {
	return fmt.Sprintf("%s=%s", baseAppLabelKey, baseAppLabelValue)
}

// withSystemLabels returns a copy of run whose labels carry the app, trigger and status labels.
func withSystemLabels(run v1.RunObject) v1.RunObject {
	runLabels := v1.LabelsSchema{}
	if run.Labels != nil {
		for k, v := range *run.Labels {
			runLabels[k] = v
		}
	}
	runLabels[baseAppLabelKey] = baseAppLabelValue
	runLabels[runTriggerLabelKey] = string(run.Trigger)
	runLabels[runStatusLabelKey] = string(run.Status)
	run.Labels = &runLabels
	return run
}

func sortNewestFirst(runs []v1.RunObject) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].Id.String() > runs[j].Id.String()
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
}

func newNotFound(runID uuid.UUID) error {
	return k8serrors.NewNotFound(schema.GroupResource{Group: resourceGroup, Resource: resourceName}, runID.String())
}

func newAlreadyExists(runID uuid.UUID) error {
	return k8serrors.NewAlreadyExists(schema.GroupResource{Group: resourceGroup, Resource: resourceName}, runID.String())
}

// InstrumentedRunStore records latency and errors of every call into the run store metrics.
type InstrumentedRunStore struct {
	next RunStorage
}

var _ RunStorage = (*InstrumentedRunStore)(nil)

func NewInstrumentedRunStore(next RunStorage) *InstrumentedRunStore {
	return &InstrumentedRunStore{next: next}
}

func observe(operation string, start time.Time, err error) {
	metrics.RecordRunstoreRequest(operation, start)
	if err != nil && !k8serrors.IsNotFound(err) {
		metrics.RecordRunstoreError(operation)
	}
}

func (s *InstrumentedRunStore) ListRuns(ctx context.Context, selector string) ([]v1.RunObject, error) {
	start := time.Now()
	runs, err := s.next.ListRuns(ctx, selector)
	observe("list_runs", start, err)
	return runs, err
}

func (s *InstrumentedRunStore) GetRun(ctx context.Context, runID uuid.UUID) (*v1.RunObject, error) {
	start := time.Now()
	run, err := s.next.GetRun(ctx, runID)
	observe("get_run", start, err)
	return run, err
}

func (s *InstrumentedRunStore) CreateRun(ctx context.Context, run v1.RunObject) (*v1.RunObject, error) {
	start := time.Now()
	created, err := s.next.CreateRun(ctx, run)
	observe("create_run", start, err)
	return created, err
}

func (s *InstrumentedRunStore) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	start := time.Now()
	err := s.next.DeleteRun(ctx, runID)
	observe("delete_run", start, err)
	return err
}

// Close releases the wrapped store when it holds resources.
func (s *InstrumentedRunStore) Close() error {
	if c, ok := s.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
