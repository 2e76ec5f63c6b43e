package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entropycollective/vaultfs/pkg/api"
	"github.com/entropycollective/vaultfs/pkg/dbsink"
	"github.com/entropycollective/vaultfs/pkg/jobsystem"
	"github.com/entropycollective/vaultfs/pkg/logging"
)

type apiFakeOuter struct {
	sink jobsystem.DbSink
	dir  string
}

func (o *apiFakeOuter) ID() jobsystem.CtxID      { return "api-test" }
func (o *apiFakeOuter) DbSink() jobsystem.DbSink { return o.sink }
func (o *apiFakeOuter) InvalidateQuery(string)   {}
func (o *apiFakeOuter) GetDataDirectory() string { return o.dir }

type blockingJob struct {
	unblock chan struct{}
}

func (j *blockingJob) Name() jobsystem.JobName { return jobsystem.JobName("api-test-job") }
func (j *blockingJob) Hash() uint64            { return jobsystem.HashJobKey(j.Name(), "fixed") }

func (j *blockingJob) Run(ctx context.Context, jc jobsystem.JobContext, dispatcher *jobsystem.TaskDispatcher) jobsystem.ReturnStatus {
	select {
	case <-j.unblock:
		ret := jobsystem.NewJobReturn().Build()
		return jobsystem.ReturnStatus{Kind: jobsystem.ReturnCompleted, Return: &ret}
	case <-ctx.Done():
		return jobsystem.ReturnStatus{Kind: jobsystem.ReturnCanceled}
	}
}

func newTestServer(t *testing.T) (*api.Server, *jobsystem.JobSystem, jobsystem.DbSink, func()) {
	t.Helper()
	sink := dbsink.NewMemory()
	log := logging.NewLogger(logging.DefaultConfig())
	js := jobsystem.New(2, sink, t.TempDir(), log)
	ctx, cancel := context.WithCancel(context.Background())
	js.Start(ctx)
	server := api.NewServer(js, log)
	return server, js, sink, func() {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutCancel()
		_ = js.Shutdown(shutCtx)
		cancel()
	}
}

func TestListReportsReturnsActiveJob(t *testing.T) {
	server, js, sink, cleanup := newTestServer(t)
	defer cleanup()

	job := &blockingJob{unblock: make(chan struct{})}
	_, err := js.NewJob(context.Background(), job, jobsystem.LocationID("test-location"), &apiFakeOuter{sink: sink}, "test-action")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/reports", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp api.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	close(job.unblock)
}

func TestCommandCancelStopsRunningJob(t *testing.T) {
	server, js, sink, cleanup := newTestServer(t)
	defer cleanup()

	job := &blockingJob{unblock: make(chan struct{})}
	handle, err := js.NewJob(context.Background(), job, jobsystem.LocationID("test-location"), &apiFakeOuter{sink: sink}, "test-action")
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{"command": "cancel"})
	req := httptest.NewRequest(http.MethodPost, "/jobs/"+handle.ID.String()+"/command", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		report, ok := sink.Get(handle.ID)
		return ok && report.Status == jobsystem.StatusCanceled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCommandUnknownVerbReturnsBadRequest(t *testing.T) {
	server, _, _, cleanup := newTestServer(t)
	defer cleanup()

	body, _ := json.Marshal(map[string]string{"command": "not-a-command"})
	req := httptest.NewRequest(http.MethodPost, "/jobs/"+jobsystem.NewJobID().String()+"/command", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommandUnknownJobReturnsNotFound(t *testing.T) {
	server, _, _, cleanup := newTestServer(t)
	defer cleanup()

	body, _ := json.Marshal(map[string]string{"command": "pause"})
	req := httptest.NewRequest(http.MethodPost, "/jobs/"+jobsystem.NewJobID().String()+"/command", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBroadcastDropsWhenNoClients(t *testing.T) {
	server, _, _, cleanup := newTestServer(t)
	defer cleanup()

	assert.NotPanics(t, func() {
		server.Broadcast(api.UpdateEvent{JobID: "x", Status: "completed", Timestamp: time.Now()})
	})
}
