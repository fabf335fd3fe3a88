package server_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/wesm/dashai/internal/agent"
	"github.com/wesm/dashai/internal/relay"
	"github.com/wesm/dashai/internal/server"
)

// recordingRuntime returns a canned result and remembers the tasks
// it was given.
type recordingRuntime struct {
	mu    sync.Mutex
	tasks []agent.Task
	tools []agent.ToolEvent
	res   agent.Result
	err   error
}

func (r *recordingRuntime) Run(
	_ context.Context, task agent.Task, onTool agent.ToolFunc,
) (agent.Result, error) {
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()
	if onTool != nil {
		for _, ev := range r.tools {
			onTool(ev)
		}
	}
	return r.res, r.err
}

func (r *recordingRuntime) lastTask(t *testing.T) agent.Task {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.tasks, "runtime was not called")
	return r.tasks[len(r.tasks)-1]
}

// blockingRuntime waits for its context to end.
var blockingRuntime = agent.RuntimeFunc(func(
	ctx context.Context, _ agent.Task, _ agent.ToolFunc,
) (agent.Result, error) {
	<-ctx.Done()
	return agent.Result{}, ctx.Err()
})

func TestChat_RequiresMessage(t *testing.T) {
	rt := &recordingRuntime{}
	te := setupWithRuntime(t, rt)

	for _, body := range []string{
		`{}`,
		`{"message": ""}`,
		`{"message": "   "}`,
		`{"message": 5}`,
		`not json`,
		``,
	} {
		t.Run(body, func(t *testing.T) {
			w := te.post(t, "/chat", body)
			assertStatus(t, w, http.StatusBadRequest)
			assertErrorResponse(t, w, "Field 'message' is required.")
		})
	}
	assert.Empty(t, rt.tasks, "agent ran for an invalid request")
}

func TestChat_ReturnsAgentResult(t *testing.T) {
	rt := &recordingRuntime{res: agent.Result{
		Query:       "SELECT category, SUM(total) FROM sales GROUP BY 1",
		Results:     []map[string]any{{"category": "Games", "total": 80.0}},
		Reasoning:   "Summed totals per category.",
		FinalAnswer: "Games sells the most.",
	}}
	te := setupWithRuntime(t, rt)

	w := te.post(t, "/chat", `{"message": "  top category?  "}`)
	assertStatus(t, w, http.StatusOK)

	got := decode[agent.Result](t, w)
	if diff := cmp.Diff(rt.res, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	task := rt.lastTask(t)
	assert.Equal(t, "top category?", task.Input)
	assert.NotEmpty(t, task.ThreadID)
	assert.NotEmpty(t, task.RunID)
	assert.NotEqual(t, task.ThreadID, task.RunID)
}

func TestChat_NilResultsEncodeAsEmptyArray(t *testing.T) {
	te := setupWithRuntime(t, &recordingRuntime{
		res: agent.Result{Reasoning: "nothing matched"},
	})

	w := te.post(t, "/chat", `{"message": "anything?"}`)
	assertStatus(t, w, http.StatusOK)
	body := gjson.Parse(w.Body.String())
	assert.True(t, body.Get("results").IsArray(), "results: %s",
		body.Get("results").Raw)
	assert.Empty(t, body.Get("results").Array())
	assert.Equal(t, "nothing matched", body.Get("reasoning").String())
}

func TestChat_AgentErrors(t *testing.T) {
	tests := []struct {
		name    string
		rt      agent.Runtime
		status  int
		wantErr string
	}{
		{
			"not configured", agent.Unavailable,
			http.StatusServiceUnavailable, "chat agent not configured",
		},
		{
			"failed run",
			&recordingRuntime{err: errors.New("model refused")},
			http.StatusInternalServerError, "Internal Server Error",
		},
		{
			"timed out", blockingRuntime,
			http.StatusInternalServerError, "Internal Server Error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := setupWithRuntime(t, tt.rt,
				withAgentTimeout(50*time.Millisecond))
			w := te.post(t, "/chat", `{"message": "hi"}`)
			assertStatus(t, w, tt.status)
			assertErrorResponse(t, w, tt.wantErr)
			assert.NotContains(t, w.Body.String(), "model refused")
		})
	}
}

func TestChat_DefaultRuntimeIsUnavailable(t *testing.T) {
	te := setup(t)
	w := te.post(t, "/chat", `{"message": "hi"}`)
	assertStatus(t, w, http.StatusServiceUnavailable)
	assertErrorResponse(t, w, "chat agent not configured")
}

func TestChat_BreakerOpens(t *testing.T) {
	failing := &recordingRuntime{err: errors.New("crashed")}
	br := agent.NewBreaker(failing, agent.BreakerConfig{
		Failures: 2, Cooldown: time.Hour,
	})
	te := setupWithRuntime(t, br)

	for range 2 {
		w := te.post(t, "/chat", `{"message": "hi"}`)
		assertStatus(t, w, http.StatusInternalServerError)
	}
	w := te.post(t, "/chat", `{"message": "hi"}`)
	assertStatus(t, w, http.StatusServiceUnavailable)
	assertErrorResponse(t, w, "chat agent temporarily unavailable")
	assert.Len(t, failing.tasks, 2, "open breaker still called the agent")
}

// parseFrames splits an SSE body into its JSON data payloads.
func parseFrames(t *testing.T, body string) []gjson.Result {
	t.Helper()
	var frames []gjson.Result
	for block := range strings.SplitSeq(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		data, ok := strings.CutPrefix(block, "data: ")
		require.True(t, ok, "frame without data line: %q", block)
		require.True(t, gjson.Valid(data), "invalid JSON frame: %q", data)
		frames = append(frames, gjson.Parse(data))
	}
	return frames
}

func frameTypes(frames []gjson.Result) []string {
	types := make([]string, len(frames))
	for i, f := range frames {
		types[i] = f.Get("type").String()
	}
	return types
}

func streamPath(message string) string {
	return "/chat-stream?user_message=" + url.QueryEscape(message)
}

func TestChatStream_RequiresMessage(t *testing.T) {
	te := setup(t)
	for _, path := range []string{
		"/chat-stream",
		"/chat-stream?user_message=",
		"/chat-stream?user_message=%20%20",
	} {
		w := te.get(t, path)
		assertStatus(t, w, http.StatusBadRequest)
		assertErrorResponse(t, w, "Field 'user_message' is required.")
	}
}

func TestChatStream_RelaysToolEvents(t *testing.T) {
	rt := &recordingRuntime{
		tools: []agent.ToolEvent{
			{Tool: "get_schema", Output: `{"orders":[]}`},
			{Tool: "query_database", Output: `[{"n":4}]`},
		},
		res: agent.Result{FinalAnswer: "4 orders"},
	}
	hub := relay.NewHub()
	te := setupWithServerOpts(t, []server.Option{
		server.WithRuntime(rt), server.WithHub(hub),
	})

	w := te.get(t, streamPath("how many orders?"))
	assertStatus(t, w, http.StatusOK)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	frames := parseFrames(t, w.Body.String())
	assert.Equal(t,
		[]string{"RUN_STARTED", "RAW", "RAW", "RUN_FINISHED"},
		frameTypes(frames))

	task := rt.lastTask(t)
	assert.Equal(t, "how many orders?", task.Input)
	for _, f := range frames {
		assert.Equal(t, task.ThreadID, f.Get("threadId").String())
		assert.Equal(t, task.RunID, f.Get("runId").String())
	}

	raw := frames[1:3]
	for i, want := range rt.tools {
		ev := raw[i].Get("event")
		assert.Equal(t, int64(i+1), ev.Get("seq").Int())
		assert.Equal(t, want.Tool, ev.Get("tool").String())
		assert.Equal(t, want.Output, ev.Get("output").String())
	}

	assert.Zero(t, hub.Len(), "session left open after stream")
}

func TestChatStream_NoToolsStillFinishes(t *testing.T) {
	te := setupWithRuntime(t, &recordingRuntime{})
	w := te.get(t, streamPath("hello"))
	assertStatus(t, w, http.StatusOK)
	frames := parseFrames(t, w.Body.String())
	assert.Equal(t, []string{"RUN_STARTED", "RUN_FINISHED"},
		frameTypes(frames))
	assert.False(t, frames[0].Get("event").Exists())
}

func TestChatStream_ReportsFailure(t *testing.T) {
	tests := []struct {
		name string
		rt   agent.Runtime
		want string
	}{
		{"not configured", agent.Unavailable, "chat agent not configured"},
		{
			"failed run",
			&recordingRuntime{
				tools: []agent.ToolEvent{{Tool: "get_schema", Output: "{}"}},
				err:   errors.New("exit status 1"),
			},
			"agent run failed",
		},
		{"timed out", blockingRuntime, "agent timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := setupWithRuntime(t, tt.rt,
				withAgentTimeout(50*time.Millisecond))
			w := te.get(t, streamPath("hi"))
			assertStatus(t, w, http.StatusOK)

			frames := parseFrames(t, w.Body.String())
			types := frameTypes(frames)
			require.GreaterOrEqual(t, len(types), 3)
			assert.Equal(t, "RUN_STARTED", types[0])
			assert.Equal(t, "RUN_ERROR", types[len(types)-2])
			assert.Equal(t, "RUN_FINISHED", types[len(types)-1])
			assert.Equal(t, tt.want,
				frames[len(frames)-2].Get("message").String())
			assert.NotContains(t, w.Body.String(), "exit status 1")
		})
	}
}

func TestChatStream_ConcurrentRunsStayApart(t *testing.T) {
	rt := agent.RuntimeFunc(func(
		_ context.Context, task agent.Task, onTool agent.ToolFunc,
	) (agent.Result, error) {
		for range 3 {
			onTool(agent.ToolEvent{Tool: "echo", Output: task.Input})
		}
		return agent.Result{}, nil
	})
	te := setupWithRuntime(t, rt)

	var wg sync.WaitGroup
	bodies := make([]string, 4)
	for i := range bodies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := te.get(t, streamPath(strings.Repeat("q", i+1)))
			bodies[i] = w.Body.String()
		}()
	}
	wg.Wait()

	for i, body := range bodies {
		want := strings.Repeat("q", i+1)
		frames := parseFrames(t, body)
		require.Len(t, frames, 5, "stream %d", i)
		for j, f := range frames[1:4] {
			assert.Equal(t, want, f.Get("event.output").String())
			assert.Equal(t, int64(j+1), f.Get("event.seq").Int())
		}
	}
}
