package api

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"

	v1 "github.com/prh-dash/dash-status/api/v1"
	"github.com/prh-dash/dash-status/internal/runstore"
)

// mockRunStore is a mock implementation of the RunStorage interface for testing.
type mockRunStore struct {
	runs         map[uuid.UUID]v1.RunObject
	order        []uuid.UUID
	getRunErr    error
	listRunsErr  error
	createRunErr error
	deleteRunErr error
	lastSelector string
}

// Enforce that mockRunStore implements the RunStorage interface.
var _ runstore.RunStorage = (*mockRunStore)(nil)

func newMockRunStore(runs ...v1.RunObject) *mockRunStore {
	m := &mockRunStore{runs: make(map[uuid.UUID]v1.RunObject)}
	for _, run := range runs {
		m.runs[run.Id] = run
		m.order = append(m.order, run.Id)
	}
	return m
}

func (m *mockRunStore) ListRuns(ctx context.Context, selector string) ([]v1.RunObject, error) {
	m.lastSelector = selector
	if m.listRunsErr != nil {
		return nil, m.listRunsErr
	}
	res := []v1.RunObject{}
	for _, id := range m.order {
		if run, ok := m.runs[id]; ok {
			res = append(res, run)
		}
	}
	return res, nil
}

func (m *mockRunStore) GetRun(ctx context.Context, runID uuid.UUID) (*v1.RunObject, error) {
	if m.getRunErr != nil {
		return nil, m.getRunErr
	}
	run, ok := m.runs[runID]
	if !ok {
		return nil, k8serrors.NewNotFound(schema.GroupResource{}, runID.String())
	}
	return &run, nil
}

func (m *mockRunStore) CreateRun(ctx context.Context, run v1.RunObject) (*v1.RunObject, error) {
	if m.createRunErr != nil {
		return nil, m.createRunErr
	}
	if m.runs == nil {
		m.runs = make(map[uuid.UUID]v1.RunObject)
	}
	m.runs[run.Id] = run
	m.order = append([]uuid.UUID{run.Id}, m.order...)
	return &run, nil
}

func (m *mockRunStore) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	if m.deleteRunErr != nil {
		return m.deleteRunErr
	}
	if _, ok := m.runs[runID]; !ok {
		return k8serrors.NewNotFound(schema.GroupResource{}, runID.String())
	}
	delete(m.runs, runID)
	return nil
}

type mockTriggerer struct {
	run       *v1.RunObject
	err       error
	trigger   v1.Trigger
	gotLabels map[string]string
}

func (m *mockTriggerer) Trigger(ctx context.Context, trigger v1.Trigger, labels map[string]string) (*v1.RunObject, error) {
	m.trigger = trigger
	m.gotLabels = labels
	return m.run, m.err
}

func testRun(status v1.RunStatus) v1.RunObject {
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return v1.RunObject{
		Id:         uuid.New(),
		Trigger:    v1.Scheduled,
		Status:     status,
		StartedAt:  started,
		FinishedAt: started.Add(4 * time.Second),
		Targets:    []string{"https://rvu-dash.streamlit.app", "https://prh-dash.streamlit.app"},
		Visits:     []v1.VisitObject{},
	}
}

func strPtr(s string) *string { return &s }

func int32Ptr(i int32) *int32 { return &i }

func TestListRuns(t *testing.T) {
	run1 := testRun(v1.Succeeded)
	run2 := testRun(v1.Failed)
	run3 := testRun(v1.Succeeded)

	testCases := []struct {
		name             string
		params           v1.ListRunsParams
		store            runstore.RunStorage
		expectedRuns     []v1.RunObject
		expect400        bool
		expectedErr      string
		expectedSelector string
	}{
		{
			name:         "successfully lists runs",
			store:        newMockRunStore(run1, run2, run3),
			expectedRuns: []v1.RunObject{run1, run2, run3},
		},
		{
			name:         "limit truncates the newest-first list",
			params:       v1.ListRunsParams{Limit: int32Ptr(2)},
			store:        newMockRunStore(run1, run2, run3),
			expectedRuns: []v1.RunObject{run1, run2},
		},
		{
			name:         "limit larger than the list",
			params:       v1.ListRunsParams{Limit: int32Ptr(50)},
			store:        newMockRunStore(run1),
			expectedRuns: []v1.RunObject{run1},
		},
		{
			name:             "selector is passed to the store",
			params:           v1.ListRunsParams{LabelSelector: strPtr("dash-status/status=failed")},
			store:            newMockRunStore(run2),
			expectedRuns:     []v1.RunObject{run2},
			expectedSelector: "dash-status/status=failed",
		},
		{
			name:      "returns 400 for invalid label selector",
			params:    v1.ListRunsParams{LabelSelector: strPtr("invalid selector")},
			store:     newMockRunStore(),
			expect400: true,
		},
		{
			name:         "nil store lists nothing",
			expectedRuns: []v1.RunObject{},
		},
		{
			name:        "returns error when listing fails",
			store:       &mockRunStore{listRunsErr: errors.New("generic list error")},
			expectedErr: "failed to list runs from storage: generic list error",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := NewServer(tc.store, &mockTriggerer{})
			res, err := server.ListRuns(context.Background(), v1.ListRunsRequestObject{Params: tc.params})

			if tc.expectedErr != "" {
				require.Error(t, err)
				assert.EqualError(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)

			if tc.expect400 {
				resp400, ok := res.(v1.ListRuns400JSONResponse)
				require.True(t, ok, "expected a 400 response, got %T", res)
				assert.Equal(t, int32(400), resp400.Error.Code)
				assert.True(t, strings.HasPrefix(resp400.Error.Message, "invalid label_selector:"))
				return
			}

			resp200, ok := res.(v1.ListRuns200JSONResponse)
			require.True(t, ok, "expected a 200 response, got %T", res)
			assert.Equal(t, tc.expectedRuns, resp200.Runs)
			if mock, ok := tc.store.(*mockRunStore); ok && tc.expectedSelector != "" {
				assert.Equal(t, tc.expectedSelector, mock.lastSelector)
			}
		})
	}
}

func TestGetRunById(t *testing.T) {
	run := testRun(v1.Succeeded)

	testCases := []struct {
		name             string
		runID            uuid.UUID
		store            runstore.RunStorage
		expectedResponse v1.GetRunByIdResponseObject
		expectedErr      string
	}{
		{
			name:             "successfully gets a run",
			runID:            run.Id,
			store:            newMockRunStore(run),
			expectedResponse: v1.GetRunById200JSONResponse(run),
		},
		{
			name:             "returns 404 when run not found",
			runID:            uuid.New(),
			store:            newMockRunStore(),
			expectedResponse: v1.GetRunById404JSONResponse{},
		},
		{
			name:             "returns 404 without a store",
			runID:            run.Id,
			expectedResponse: v1.GetRunById404JSONResponse{},
		},
		{
			name:        "returns error when getting fails",
			runID:       run.Id,
			store:       &mockRunStore{getRunErr: errors.New("generic get error")},
			expectedErr: "failed to get run from storage: generic get error",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := NewServer(tc.store, &mockTriggerer{})
			res, err := server.GetRunById(context.Background(), v1.GetRunByIdRequestObject{RunId: tc.runID})

			if tc.expectedErr != "" {
				require.Error(t, err)
				assert.EqualError(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)
			if resp404, ok := res.(v1.GetRunById404JSONResponse); ok {
				assert.IsType(t, tc.expectedResponse, res)
				assert.Contains(t, resp404.Error.Message, tc.runID.String())
			} else {
				assert.Equal(t, tc.expectedResponse, res)
			}
		})
	}
}

func TestCreateRun(t *testing.T) {
	succeeded := testRun(v1.Succeeded)
	failed := testRun(v1.Failed)

	testCases := []struct {
		name             string
		body             *v1.CreateRunJSONRequestBody
		triggerer        *mockTriggerer
		expectedResponse v1.CreateRunResponseObject
		expectedLabels   map[string]string
	}{
		{
			name:             "successful run",
			triggerer:        &mockTriggerer{run: &succeeded},
			expectedResponse: v1.CreateRun201JSONResponse(succeeded),
		},
		{
			name:             "failed run is still created",
			triggerer:        &mockTriggerer{run: &failed, err: errors.New("navigate https://rvu-dash.streamlit.app: timeout")},
			expectedResponse: v1.CreateRun201JSONResponse(failed),
		},
		{
			name:             "labels are forwarded",
			body:             &v1.CreateRunJSONRequestBody{Labels: &v1.LabelsSchema{"requested-by": "ops"}},
			triggerer:        &mockTriggerer{run: &succeeded},
			expectedResponse: v1.CreateRun201JSONResponse(succeeded),
			expectedLabels:   map[string]string{"requested-by": "ops"},
		},
		{
			name:             "no run produced",
			triggerer:        &mockTriggerer{err: errors.New("boom")},
			expectedResponse: v1.CreateRun500JSONResponse(v1.NewError(500, "failed to run probe: boom")),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := NewServer(newMockRunStore(), tc.triggerer)
			res, err := server.CreateRun(context.Background(), v1.CreateRunRequestObject{Body: tc.body})

			require.NoError(t, err)
			assert.Equal(t, tc.expectedResponse, res)
			assert.Equal(t, v1.Manual, tc.triggerer.trigger)
			if tc.expectedLabels != nil {
				assert.Equal(t, tc.expectedLabels, tc.triggerer.gotLabels)
			}
		})
	}
}

func TestDeleteRun(t *testing.T) {
	run := testRun(v1.Succeeded)

	testCases := []struct {
		name             string
		runID            uuid.UUID
		store            runstore.RunStorage
		expectedResponse v1.DeleteRunResponseObject
		expectedErr      string
	}{
		{
			name:             "successfully deletes a run",
			runID:            run.Id,
			store:            newMockRunStore(run),
			expectedResponse: v1.DeleteRun204Response{},
		},
		{
			name:             "returns 404 when run not found",
			runID:            uuid.New(),
			store:            newMockRunStore(),
			expectedResponse: v1.DeleteRun404JSONResponse{},
		},
		{
			name:        "returns error when deleting fails",
			runID:       run.Id,
			store:       &mockRunStore{deleteRunErr: errors.New("generic delete error")},
			expectedErr: "failed to delete run from storage: generic delete error",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := NewServer(tc.store, &mockTriggerer{})
			res, err := server.DeleteRun(context.Background(), v1.DeleteRunRequestObject{RunId: tc.runID})

			if tc.expectedErr != "" {
				require.Error(t, err)
				assert.EqualError(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tc.expectedResponse, res)
		})
	}
}
