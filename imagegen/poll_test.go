package imagegen

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/storyboard/testutil"
	"github.com/BaSui01/storyboard/types"
)

func fastPoller(srv *httptest.Server) *poller {
	p := newPoller(srv.Client(), newTestExtractor(srv.Client()), nil)
	p.interval = time.Millisecond
	return p
}

func TestPoll_TimesOutAfterBudgetWithTaskID(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"status":"pending"}`)
	}))
	defer srv.Close()

	p := fastPoller(srv)
	_, err := p.Poll(testutil.TestContext(t), &pendingTask{ID: "task-99", PollURL: srv.URL},
		ProviderAsyncTask, testConfig(srv.URL))
	require.Error(t, err)

	var genErr *types.Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, types.ErrTimeout, genErr.Code)
	assert.Equal(t, "task-99", genErr.TaskID)
	assert.Contains(t, genErr.Message, "task-99")
	assert.Equal(t, int64(defaultPollMaxAttempts), calls.Load())
}

func TestPoll_PendingThenTaskResult(t *testing.T) {
	t.Parallel()

	payload := testutil.PNGBase64(t)
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "task-5", r.URL.Query().Get("taskId"))
		if calls.Add(1) < 3 {
			fmt.Fprint(w, `{"code":0,"data":{"state":"waiting"}}`)
			return
		}
		// Result payload nests a JSON string, the way task APIs report URLs.
		fmt.Fprintf(w, `{"code":0,"data":{"state":"success","resultJson":"{\"resultUrls\":[\"data:image/png;base64,%s\"]}"}}`, payload)
	}))
	defer srv.Close()

	p := fastPoller(srv)
	result, err := p.Poll(testutil.TestContext(t), &pendingTask{ID: "task-5", PollURL: srv.URL},
		ProviderAsyncTask, testConfig(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,"+payload, result.Image.String())
	assert.Equal(t, int64(3), calls.Load())
}

func TestPoll_ExplicitFailureStopsEarly(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"failed","taskId":"task-3","message":"prompt rejected by safety filter"}`)
	}))
	defer srv.Close()

	p := fastPoller(srv)
	_, err := p.Poll(testutil.TestContext(t), &pendingTask{ID: "task-3", PollURL: srv.URL},
		ProviderAsyncTask, testConfig(srv.URL))
	require.Error(t, err)

	var genErr *types.Error
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, types.ErrModerationRejected, genErr.Code)
	assert.Equal(t, "task-3", genErr.TaskID)
}

func TestPoll_SwallowsTransientServerErrors(t *testing.T) {
	t.Parallel()

	payload := testutil.PNGBase64(t)
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			http.Error(w, "bad gateway", http.StatusBadGateway)
		case 2:
			fmt.Fprint(w, "not even json")
		default:
			fmt.Fprintf(w, `{"status":"succeeded","image":"data:image/png;base64,%s"}`, payload)
		}
	}))
	defer srv.Close()

	p := fastPoller(srv)
	result, err := p.Poll(testutil.TestContext(t), &pendingTask{ID: "task-1", PollURL: srv.URL},
		ProviderGeneric, testConfig(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,"+payload, result.Image.String())
	assert.Equal(t, int64(3), calls.Load())
}

func TestPoll_CancelledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"pending"}`)
	}))
	defer srv.Close()

	p := fastPoller(srv)
	_, err := p.Poll(testutil.CancelledContext(), &pendingTask{ID: "task-1", PollURL: srv.URL},
		ProviderGeneric, testConfig(srv.URL))
	require.Error(t, err)
	assert.Equal(t, types.ErrNetwork, types.GetErrorCode(err))
}

func TestDeriveResultEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		endpoint string
		want     string
	}{
		{"https://api.example.com/api/v1/jobs/createTask", "https://api.example.com/api/v1/jobs/recordInfo"},
		{"https://api.example.com/v1/create-task", "https://api.example.com/v1/task-result"},
		{"https://api.example.com/v1/create_task", "https://api.example.com/v1/task_result"},
		{"https://api.example.com/v2/task/submit", "https://api.example.com/v2/task/result"},
		{"https://api.example.com/v2/tasks/submit", "https://api.example.com/v2/tasks/result"},
		{"https://api.example.com/async/generate", "https://api.example.com/async/generate/result"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, deriveResultEndpoint(tt.endpoint), "endpoint %s", tt.endpoint)
	}
}

func TestWithTaskID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://x/r?taskId=t-1", withTaskID("https://x/r", "t-1"))
	assert.Equal(t, "https://x/r?taskId=keep", withTaskID("https://x/r?taskId=keep", "t-1"))
	assert.Equal(t, "https://x/r", withTaskID("https://x/r", ""))
}
