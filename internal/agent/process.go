package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/shlex"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/wesm/dashai/internal/logging"
	"github.com/wesm/dashai/internal/metrics"
	"github.com/wesm/dashai/internal/tools"
)

// Toolbox executes tool calls and describes the available tools.
type Toolbox interface {
	Call(ctx context.Context, name, input string) (string, error)
	List() []tools.Tool
}

// Process runs an agent command per task and speaks JSON lines
// with it:
//
//	service -> agent  {"type":"task","input",...,"tools":[...]}
//	agent -> service  {"type":"tool_call","id","tool","input"}
//	service -> agent  {"type":"tool_result","id","output"}
//	agent -> service  {"type":"result","query","results","reasoning","final_answer"}
//	agent -> service  {"type":"error","message"}
//
// Other stdout lines and all of stderr are logged at debug level.
type Process struct {
	path    string
	args    []string
	tools   Toolbox
	passEnv []string
	// WaitDelay bounds how long the process may linger after its
	// context is cancelled.
	WaitDelay time.Duration
}

// NewProcess splits command with shell quoting rules. An empty
// command yields ErrAgentUnavailable. passEnv names extra variables
// (provider API keys) copied from the service environment.
func NewProcess(
	command string, tb Toolbox, passEnv []string,
) (*Process, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parsing agent command: %w", err)
	}
	if len(argv) == 0 {
		return nil, ErrAgentUnavailable
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, fmt.Errorf("agent command not found: %w", err)
	}
	return &Process{
		path:      path,
		args:      argv[1:],
		tools:     tb,
		passEnv:   passEnv,
		WaitDelay: 5 * time.Second,
	}, nil
}

// allowedKeyPrefixes lists uppercase keys passed to the agent
// subprocess. Entries ending in _ match as prefixes.
var allowedKeyPrefixes = []string{
	"PATH",
	"HOME", "USER", "LOGNAME",
	"LANG", "LC_",
	"TMPDIR", "TEMP", "TMP",
	"XDG_",
	"SSL_CERT_", "CURL_CA_BUNDLE",
	"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY",
	"SYSTEMROOT", "COMSPEC", "PATHEXT", "WINDIR",
	"VIRTUAL_ENV", "PYTHONPATH",
}

func envKeyAllowed(key string, extra []string) bool {
	upper := strings.ToUpper(key)
	for _, p := range allowedKeyPrefixes {
		if strings.HasSuffix(p, "_") {
			if strings.HasPrefix(upper, p) {
				return true
			}
		} else if upper == p {
			return true
		}
	}
	for _, e := range extra {
		if strings.EqualFold(key, e) {
			return true
		}
	}
	return false
}

// cleanEnv returns the allow-listed subset of environ.
func cleanEnv(environ, extra []string) []string {
	filtered := make([]string, 0, len(environ))
	for _, e := range environ {
		k, _, _ := strings.Cut(e, "=")
		if envKeyAllowed(k, extra) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

type toolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type taskLine struct {
	Type     string     `json:"type"`
	Input    string     `json:"input"`
	ThreadID string     `json:"thread_id"`
	RunID    string     `json:"run_id"`
	Tools    []toolSpec `json:"tools"`
}

type toolResultLine struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Output string `json:"output"`
}

// Run starts the agent command, hands it the task, and serves its
// tool calls until it reports a result or error.
func (p *Process) Run(
	ctx context.Context, task Task, onTool ToolFunc,
) (Result, error) {
	cmd := exec.CommandContext(ctx, p.path, p.args...)
	cmd.Env = cleanEnv(os.Environ(), p.passEnv)
	cmd.WaitDelay = p.WaitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start agent: %w", err)
	}

	log := logging.Ctx(logging.ContextWithRun(
		ctx, task.ThreadID, task.RunID,
	)).With().Str("component", "agent").Logger()

	stderrDone := collectStderr(stderr, log)
	res, protoErr := converse(ctx, stdout, stdin, task, p.tools, onTool, log)
	stdin.Close()

	exited := make(chan exitStatus, 1)
	go func() {
		// Drain remaining stdout so cmd.Wait doesn't block.
		_, _ = io.Copy(io.Discard, stdout)
		stderrText := <-stderrDone
		exited <- exitStatus{stderr: stderrText, err: cmd.Wait()}
	}()

	if protoErr == nil {
		// The answer is in; a lingering or failing exit cannot
		// take it back.
		if st := p.reap(cmd, exited, log); st.err != nil {
			log.Warn().Err(st.err).Msg("agent exited non-zero after result")
		}
		return res, nil
	}

	st := <-exited
	if ctx.Err() != nil {
		return Result{}, fmt.Errorf("agent cancelled: %w", ctx.Err())
	}
	if st.stderr != "" {
		return Result{}, fmt.Errorf("%w\nstderr: %s", protoErr, st.stderr)
	}
	return Result{}, protoErr
}

type exitStatus struct {
	stderr string
	err    error
}

// defaultExitGrace applies when WaitDelay is unset.
const defaultExitGrace = 2 * time.Second

// reap waits up to WaitDelay for an agent that has already answered
// to exit, then kills it.
func (p *Process) reap(
	cmd *exec.Cmd, exited <-chan exitStatus, log zerolog.Logger,
) exitStatus {
	grace := p.WaitDelay
	if grace <= 0 {
		grace = defaultExitGrace
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case st := <-exited:
		return st
	case <-timer.C:
	}
	log.Warn().Dur("grace", grace).
		Msg("agent still running after result, killing it")
	if err := cmd.Process.Kill(); err != nil {
		log.Debug().Err(err).Msg("killing agent")
	}
	return <-exited
}

// collectStderr logs stderr lines and returns the last few once the
// stream closes.
func collectStderr(r io.Reader, log zerolog.Logger) <-chan string {
	const keep = 20
	ch := make(chan string, 1)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		var tail []string
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			log.Debug().Str("stream", "stderr").Msg(line)
			tail = append(tail, line)
			if len(tail) > keep {
				tail = tail[1:]
			}
		}
		_, _ = io.Copy(io.Discard, r)
		ch <- strings.Join(tail, "\n")
	}()
	return ch
}

// converse runs the line protocol over r (agent stdout) and w
// (agent stdin).
func converse(
	ctx context.Context,
	r io.Reader,
	w io.Writer,
	task Task,
	tb Toolbox,
	onTool ToolFunc,
	log zerolog.Logger,
) (Result, error) {
	enc := json.NewEncoder(w)

	specs := []toolSpec{}
	if tb != nil {
		for _, t := range tb.List() {
			specs = append(specs, toolSpec{
				Name: t.Name, Description: t.Description,
			})
		}
	}
	if err := enc.Encode(taskLine{
		Type:     "task",
		Input:    task.Input,
		ThreadID: task.ThreadID,
		RunID:    task.RunID,
		Tools:    specs,
	}); err != nil {
		return Result{}, fmt.Errorf("write task: %w", err)
	}

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return Result{}, fmt.Errorf("read agent output: %w", err)
		}

		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			if !gjson.Valid(trimmed) {
				log.Debug().Str("stream", "stdout").Msg(trimmed)
			} else {
				msg := gjson.Parse(trimmed)
				switch msg.Get("type").String() {
				case "tool_call":
					out := runTool(ctx, tb, msg, log)
					if werr := enc.Encode(toolResultLine{
						Type:   "tool_result",
						ID:     msg.Get("id").String(),
						Output: out,
					}); werr != nil {
						return Result{}, fmt.Errorf(
							"write tool result: %w", werr)
					}
					emit(onTool, ToolEvent{
						Tool:     msg.Get("tool").String(),
						Output:   out,
						ThreadID: task.ThreadID,
						RunID:    task.RunID,
					})
				case "result":
					return parseResult(msg), nil
				case "error":
					m := msg.Get("message").String()
					if m == "" {
						m = "agent error"
					}
					return Result{}, fmt.Errorf("agent: %s", m)
				default:
					log.Debug().Str("stream", "stdout").Msg(trimmed)
				}
			}
		}

		if err == io.EOF {
			return Result{}, errors.New("agent exited without a result")
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
	}
}

// runTool executes one tool call. Tool failures are reported back
// to the agent as an "error: ..." output rather than ending the
// run.
func runTool(
	ctx context.Context, tb Toolbox, msg gjson.Result,
	log zerolog.Logger,
) string {
	name := msg.Get("tool").String()
	input := msg.Get("input")
	raw := input.Raw
	if input.Type == gjson.String {
		raw = input.String()
	}

	metrics.RecordToolCall(name)
	if tb == nil {
		return "error: no tools available"
	}
	out, err := tb.Call(ctx, name, raw)
	if err != nil {
		log.Warn().Err(err).Str("tool", name).Msg("tool call failed")
		return "error: " + err.Error()
	}
	log.Debug().Str("tool", name).Int("output_bytes", len(out)).
		Msg("tool call completed")
	return out
}

// parseResult converts a result line. results may be an array of
// objects; scalar elements are wrapped as {"value": v}.
func parseResult(msg gjson.Result) Result {
	res := Result{
		Query:       msg.Get("query").String(),
		Reasoning:   msg.Get("reasoning").String(),
		FinalAnswer: msg.Get("final_answer").String(),
		Results:     []map[string]any{},
	}
	for _, el := range msg.Get("results").Array() {
		if m, ok := el.Value().(map[string]any); ok {
			res.Results = append(res.Results, m)
		} else {
			res.Results = append(res.Results,
				map[string]any{"value": el.Value()})
		}
	}
	return res
}
