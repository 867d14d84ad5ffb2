// Package api implements the HTTP handlers of the dash-status service.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/labels"

	v1 "github.com/prh-dash/dash-status/api/v1"
	"github.com/prh-dash/dash-status/internal/runstore"
)

// Triggerer starts a recorded probe run on demand.
type Triggerer interface {
	Trigger(ctx context.Context, trigger v1.Trigger, labels map[string]string) (*v1.RunObject, error)
}

// Server implements v1.StrictServerInterface on top of a run store.
type Server struct {
	Store  runstore.RunStorage
	Runner Triggerer
}

var _ v1.StrictServerInterface = Server{}

// NewServer creates a Server. A nil store serves an always-empty run list.
func NewServer(store runstore.RunStorage, runner Triggerer) Server {
	return Server{
		Store:  store,
		Runner: runner,
	}
}

// (GET /api/v1/runs)
func (s Server) ListRuns(ctx context.Context, request v1.ListRunsRequestObject) (v1.ListRunsResponseObject, error) {
	selector := ""
	if request.Params.LabelSelector != nil {
		selector = *request.Params.LabelSelector
	}
	if _, err := labels.Parse(selector); err != nil {
		return v1.ListRuns400JSONResponse(v1.NewError(http.StatusBadRequest, fmt.Sprintf("invalid label_selector: %v", err))), nil
	}

	runs := []v1.RunObject{}
	if s.Store != nil {
		stored, err := s.Store.ListRuns(ctx, selector)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs from storage: %w", err)
		}
		runs = stored
	}

	if request.Params.Limit != nil && int(*request.Params.Limit) < len(runs) {
		runs = runs[:*request.Params.Limit]
	}
	return v1.ListRuns200JSONResponse(v1.RunsArrayResponse{Runs: runs}), nil
}

// (POST /api/v1/runs)
func (s Server) CreateRun(ctx context.Context, request v1.CreateRunRequestObject) (v1.CreateRunResponseObject, error) {
	var userLabels map[string]string
	if request.Body != nil && request.Body.Labels != nil {
		userLabels = *request.Body.Labels
	}

	run, err := s.Runner.Trigger(ctx, v1.Manual, userLabels)
	if run == nil {
		return v1.CreateRun500JSONResponse(v1.NewError(http.StatusInternalServerError, fmt.Sprintf("failed to run probe: %v", err))), nil
	}
	if err != nil {
		log.Printf("Manual run %s finished with error: %v", run.Id, err)
	}
	return v1.CreateRun201JSONResponse(*run), nil
}

// (GET /api/v1/runs/{run_id})
func (s Server) GetRunById(ctx context.Context, request v1.GetRunByIdRequestObject) (v1.GetRunByIdResponseObject, error) {
	if s.Store == nil {
		return v1.GetRunById404JSONResponse(notFound(request.RunId)), nil
	}

	run, err := s.Store.GetRun(ctx, request.RunId)
	if err != nil {
		if k8serrors.IsNotFound(err) {
			return v1.GetRunById404JSONResponse(notFound(request.RunId)), nil
		}
		return nil, fmt.Errorf("failed to get run from storage: %w", err)
	}
	return v1.GetRunById200JSONResponse(*run), nil
}

// (DELETE /api/v1/runs/{run_id})
func (s Server) DeleteRun(ctx context.Context, request v1.DeleteRunRequestObject) (v1.DeleteRunResponseObject, error) {
	if s.Store == nil {
		return v1.DeleteRun404JSONResponse(notFound(request.RunId)), nil
	}

	if err := s.Store.DeleteRun(ctx, request.RunId); err != nil {
		if k8serrors.IsNotFound(err) {
			return v1.DeleteRun404JSONResponse(notFound(request.RunId)), nil
		}
		return nil, fmt.Errorf("failed to delete run from storage: %w", err)
	}

	log.Printf("Deleted run %s", request.RunId)
	return v1.DeleteRun204Response{}, nil
}

func notFound(runID uuid.UUID) v1.ErrorResponse {
	return v1.NewError(http.StatusNotFound, fmt.Sprintf("run with ID %s not found", runID))
}
