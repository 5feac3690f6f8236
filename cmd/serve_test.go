package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hive-sim/internal/auth"
	"github.com/sells-group/hive-sim/internal/credits"
	"github.com/sells-group/hive-sim/internal/model"
	"github.com/sells-group/hive-sim/internal/panel"
	"github.com/sells-group/hive-sim/internal/sim"
	"github.com/sells-group/hive-sim/internal/store"
)

type completeFunc func(ctx context.Context, req sim.CompletionRequest) (string, error)

func (f completeFunc) Complete(ctx context.Context, req sim.CompletionRequest) (string, error) {
	return f(ctx, req)
}

func newTestAPI(t *testing.T) (*apiServer, http.Handler) {
	t.Helper()

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	pool := panel.NewPool([]model.Persona{
		{Age: 34, Income: 72000, Region: "CA", Weight: 1},
		{Age: 61, Income: 15000, Region: "FL", Weight: 1},
	})
	completer := completeFunc(func(context.Context, sim.CompletionRequest) (string, error) {
		return "Response: Sure.\nRating: 4", nil
	})

	orch := sim.NewOrchestrator(s, pool, completer, credits.FreeBiller{}, nil, nil, sim.Options{Workers: 1})
	api := &apiServer{
		env:   &env{Store: s, Orchestrator: orch, Ledger: credits.NewLedger(s)},
		authn: auth.HeaderAuthenticator{},
	}
	return api, api.router()
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	req.Header.Set("X-User-ID", "user-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	_, h := newTestAPI(t)
	w := get(h, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestCreateJobAccepted(t *testing.T) {
	api, h := newTestAPI(t)

	w := postJSON(t, h, "/api/v1/jobs", createJobRequest{
		Question:    "Do you trust self-checkout machines?",
		AnswerKinds: model.AnswerKinds{model.KindOpenEnded, model.KindLikert},
		PanelSize:   2,
		Perspective: "sampled_population",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var job model.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "user-1", job.RequesterRef)
	assert.Equal(t, model.JobStatusPending, job.Status)

	// The job runs in the background; wait for it to finish.
	require.Eventually(t, func() bool {
		got, err := api.env.Store.GetJob(context.Background(), job.ID)
		return err == nil && got.Status == model.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	rw := get(h, "/api/v1/jobs/"+job.ID+"/results")
	require.Equal(t, http.StatusOK, rw.Code)

	var results resultResponse
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &results))
	require.Len(t, results.Responses, 2)
	assert.Equal(t, "sampled_population", results.Responses[0].Perspective)
	assert.NotEmpty(t, results.Responses[0].State)
	assert.NotZero(t, results.Responses[0].Age)
	assert.Equal(t, "Sure.", results.Responses[0].OpenEnded)
	require.NotNil(t, results.Responses[0].Likert)
	assert.Equal(t, 4, *results.Responses[0].Likert)
}

func TestCreateJobValidationError(t *testing.T) {
	_, h := newTestAPI(t)

	w := postJSON(t, h, "/api/v1/jobs", createJobRequest{
		Question:    "",
		AnswerKinds: model.AnswerKinds{model.KindLikert},
		PanelSize:   2,
		Perspective: "general",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "question")
}

func TestCreateJobBadBody(t *testing.T) {
	_, h := newTestAPI(t)

	req := httptest.NewRequest("POST", "/api/v1/jobs", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetJobNotFound(t *testing.T) {
	_, h := newTestAPI(t)
	w := get(h, "/api/v1/jobs/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResultsBeforeCompletionConflict(t *testing.T) {
	api, h := newTestAPI(t)

	job, err := api.env.Store.CreateJob(context.Background(), model.Job{
		RequesterRef: "user-1",
		Question:     "q",
		Kinds:        model.AnswerKinds{model.KindLikert},
		PanelSize:    1,
		Perspective:  model.PerspectiveGeneral,
		Model:        "gpt-4o-mini",
	})
	require.NoError(t, err)

	w := get(h, "/api/v1/jobs/"+job.ID+"/results")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListJobsScopedToRequester(t *testing.T) {
	api, h := newTestAPI(t)
	ctx := context.Background()

	for _, user := range []string{"user-1", "someone-else"} {
		_, err := api.env.Store.CreateJob(ctx, model.Job{
			RequesterRef: user,
			Question:     "q",
			Kinds:        model.AnswerKinds{model.KindLikert},
			PanelSize:    1,
			Perspective:  model.PerspectiveGeneral,
			Model:        "gpt-4o-mini",
		})
		require.NoError(t, err)
	}

	w := get(h, "/api/v1/jobs")
	require.Equal(t, http.StatusOK, w.Code)

	var jobs []model.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "user-1", jobs[0].RequesterRef)
}

func TestListJobsUnknownStatusRejected(t *testing.T) {
	_, h := newTestAPI(t)

	w := get(h, "/api/v1/jobs?status=exploded")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "exploded")

	w = get(h, "/api/v1/jobs?status=pending")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreditBalanceEndpoint(t *testing.T) {
	api, h := newTestAPI(t)
	require.NoError(t, api.env.Ledger.Grant(context.Background(), "user-1", 25))

	w := get(h, "/api/v1/credits")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		UserID  string `json:"user_id"`
		Balance int    `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "user-1", resp.UserID)
	assert.Equal(t, 25, resp.Balance)
}
