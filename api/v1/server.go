package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// ListRunsParams defines parameters for ListRuns.
type ListRunsParams struct {
	LabelSelector *string `form:"label_selector,omitempty" json:"label_selector,omitempty"`
	Limit         *int32  `form:"limit,omitempty" json:"limit,omitempty"`
}

// CreateRunJSONRequestBody defines body for CreateRun for application/json ContentType.
type CreateRunJSONRequestBody = CreateRunRequest

type ListRunsRequestObject struct {
	Params ListRunsParams
}

type ListRunsResponseObject interface {
	VisitListRunsResponse(w http.ResponseWriter) error
}

type ListRuns200JSONResponse RunsArrayResponse

func (response ListRuns200JSONResponse) VisitListRunsResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusOK, response)
}

type ListRuns400JSONResponse ErrorResponse

func (response ListRuns400JSONResponse) VisitListRunsResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusBadRequest, response)
}

type ListRuns500JSONResponse ErrorResponse

func (response ListRuns500JSONResponse) VisitListRunsResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusInternalServerError, response)
}

type CreateRunRequestObject struct {
	Body *CreateRunJSONRequestBody
}

type CreateRunResponseObject interface {
	VisitCreateRunResponse(w http.ResponseWriter) error
}

type CreateRun201JSONResponse RunObject

func (response CreateRun201JSONResponse) VisitCreateRunResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusCreated, response)
}

type CreateRun500JSONResponse ErrorResponse

func (response CreateRun500JSONResponse) VisitCreateRunResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusInternalServerError, response)
}

type GetRunByIdRequestObject struct {
	RunId openapi_types.UUID
}

type GetRunByIdResponseObject interface {
	VisitGetRunByIdResponse(w http.ResponseWriter) error
}

type GetRunById200JSONResponse RunObject

func (response GetRunById200JSONResponse) VisitGetRunByIdResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusOK, response)
}

type GetRunById404JSONResponse ErrorResponse

func (response GetRunById404JSONResponse) VisitGetRunByIdResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusNotFound, response)
}

type GetRunById500JSONResponse ErrorResponse

func (response GetRunById500JSONResponse) VisitGetRunByIdResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusInternalServerError, response)
}

type DeleteRunRequestObject struct {
	RunId openapi_types.UUID
}

type DeleteRunResponseObject interface {
	VisitDeleteRunResponse(w http.ResponseWriter) error
}

type DeleteRun204Response struct{}

func (response DeleteRun204Response) VisitDeleteRunResponse(w http.ResponseWriter) error {
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type DeleteRun404JSONResponse ErrorResponse

func (response DeleteRun404JSONResponse) VisitDeleteRunResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusNotFound, response)
}

type DeleteRun500JSONResponse ErrorResponse

func (response DeleteRun500JSONResponse) VisitDeleteRunResponse(w http.ResponseWriter) error {
	return writeJSON(w, http.StatusInternalServerError, response)
}

// StrictServerInterface represents all server handlers.
type StrictServerInterface interface {
	// (GET /api/v1/runs)
	ListRuns(ctx context.Context, request ListRunsRequestObject) (ListRunsResponseObject, error)
	// (POST /api/v1/runs)
	CreateRun(ctx context.Context, request CreateRunRequestObject) (CreateRunResponseObject, error)
	// (GET /api/v1/runs/{run_id})
	GetRunById(ctx context.Context, request GetRunByIdRequestObject) (GetRunByIdResponseObject, error)
	// (DELETE /api/v1/runs/{run_id})
	DeleteRun(ctx context.Context, request DeleteRunRequestObject) (DeleteRunResponseObject, error)
}

// NewError builds the JSON error body used by every /api/v1 failure.
func NewError(code int, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorObject{Code: int32(code), Message: message}}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(body)
}

func requestError(w http.ResponseWriter, err error) {
	_ = writeJSON(w, http.StatusBadRequest, NewError(http.StatusBadRequest, err.Error()))
}

func responseError(w http.ResponseWriter, err error) {
	_ = writeJSON(w, http.StatusInternalServerError, NewError(http.StatusInternalServerError, err.Error()))
}

type strictHandler struct {
	ssi StrictServerInterface
}

// HandlerFromMux registers the /api/v1 routes of si on m and returns m.
func HandlerFromMux(si StrictServerInterface, m *http.ServeMux) http.Handler {
	sh := &strictHandler{ssi: si}
	m.HandleFunc("GET /api/v1/runs", sh.ListRuns)
	m.HandleFunc("POST /api/v1/runs", sh.CreateRun)
	m.HandleFunc("GET /api/v1/runs/{run_id}", sh.GetRunById)
	m.HandleFunc("DELETE /api/v1/runs/{run_id}", sh.DeleteRun)
	return m
}

func (sh *strictHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	var params ListRunsParams

	if err := runtime.BindQueryParameter("form", true, false, "label_selector", r.URL.Query(), &params.LabelSelector); err != nil {
		requestError(w, fmt.Errorf("invalid format for parameter label_selector: %w", err))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &params.Limit); err != nil {
		requestError(w, fmt.Errorf("invalid format for parameter limit: %w", err))
		return
	}

	response, err := sh.ssi.ListRuns(r.Context(), ListRunsRequestObject{Params: params})
	if err != nil {
		responseError(w, err)
		return
	}
	if err := response.VisitListRunsResponse(w); err != nil {
		responseError(w, err)
	}
}

func (sh *strictHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	request := CreateRunRequestObject{}

	var body CreateRunJSONRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if !errors.Is(err, io.EOF) {
			requestError(w, fmt.Errorf("can't decode JSON body: %w", err))
			return
		}
	} else {
		request.Body = &body
	}

	response, err := sh.ssi.CreateRun(r.Context(), request)
	if err != nil {
		responseError(w, err)
		return
	}
	if err := response.VisitCreateRunResponse(w); err != nil {
		responseError(w, err)
	}
}

func bindRunID(r *http.Request) (openapi_types.UUID, error) {
	var runId openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "run_id", r.PathValue("run_id"), &runId, runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return runId, fmt.Errorf("invalid format for parameter run_id: %w", err)
	}
	return runId, nil
}

func (sh *strictHandler) GetRunById(w http.ResponseWriter, r *http.Request) {
	runId, err := bindRunID(r)
	if err != nil {
		requestError(w, err)
		return
	}

	response, err := sh.ssi.GetRunById(r.Context(), GetRunByIdRequestObject{RunId: runId})
	if err != nil {
		responseError(w, err)
		return
	}
	if err := response.VisitGetRunByIdResponse(w); err != nil {
		responseError(w, err)
	}
}

func (sh *strictHandler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	runId, err := bindRunID(r)
	if err != nil {
		requestError(w, err)
		return
	}

	response, err := sh.ssi.DeleteRun(r.Context(), DeleteRunRequestObject{RunId: runId})
	if err != nil {
		responseError(w, err)
		return
	}
	if err := response.VisitDeleteRunResponse(w); err != nil {
		responseError(w, err)
	}
}
