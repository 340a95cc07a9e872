package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/peopleinfo/pocketpaw/internal/agentevent"
	"github.com/peopleinfo/pocketpaw/internal/backend/ndjson"
	"github.com/peopleinfo/pocketpaw/internal/pocketerr"
)

// ArgvBuilder builds the argv for one turn from the request and the
// adapter's static flags, e.g. appending `--json` and model overrides.
type ArgvBuilder func(req RunRequest) []string

// SubprocessAdapter implements Backend for NDJSON-emitting child processes
// (official SDK CLI, Codex, Gemini, Qwen, and other external CLIs).
//
// Stdout is always read in its own goroutine feeding a buffered channel —
// Go's scheduler makes the spec's helper-thread-plus-queue fallback moot
// (see SPEC_FULL §5): there is exactly one code path, not a native-path
// plus a fallback-path.
type SubprocessAdapter struct {
	name                string
	command             string
	buildArgv           ArgvBuilder
	table               ndjson.Table
	transientSubstrings []string
	log                 *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc

	toolBridge *ToolBridge
}

// SetToolBridge wires an MCP tool bridge into this adapter: every tool_use
// event the NDJSON table emits is immediately resolved against the bridge
// and followed by a tool_result event, so an MCP-capable backend process
// never has to shell out for its own tool execution. Adapters for backends
// without MCP support simply never call this.
func (a *SubprocessAdapter) SetToolBridge(b *ToolBridge) {
	a.mu.Lock()
	a.toolBridge = b
	a.mu.Unlock()
}

// NewSubprocessAdapter constructs an adapter for one backend class.
func NewSubprocessAdapter(name, command string, buildArgv ArgvBuilder, table ndjson.Table, log *slog.Logger) *SubprocessAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &SubprocessAdapter{
		name:                name,
		command:             command,
		buildArgv:           buildArgv,
		table:               table,
		transientSubstrings: ndjson.DefaultTransientSubstrings,
		log:                 log,
	}
}

func (a *SubprocessAdapter) Info() Info {
	return Info{Name: a.name}
}

// wrapForWindows mirrors the teacher's platform handling for batch-wrapped
// global installs (npm/npx-style CLIs ship a .cmd shim on Windows that must
// be run through the command interpreter).
func wrapForWindows(command string, argv []string) (string, []string) {
	if runtime.GOOS != "windows" {
		return command, argv
	}
	full := append([]string{"/C", command}, argv...)
	return "cmd", full
}

func (a *SubprocessAdapter) Run(ctx context.Context, req RunRequest) <-chan agentevent.Event {
	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	seq := agentevent.NewSequence(32)

	go a.runProcess(runCtx, req, seq)

	return seq.Chan()
}

func (a *SubprocessAdapter) runProcess(ctx context.Context, req RunRequest, seq *agentevent.Sequence) {
	argv := a.buildArgv(req)
	cmdName, cmdArgv := wrapForWindows(a.command, argv)

	cmd := exec.CommandContext(ctx, cmdName, cmdArgv...)
	cmd.Stdin = nil
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		a.emitFatal(seq, err.Error())
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		a.emitFatal(seq, err.Error())
		return
	}

	if err := cmd.Start(); err != nil {
		a.emitFatal(seq, err.Error())
		return
	}

	var stderrTail string
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			line := sc.Text()
			if ndjson.IsTransient(line, a.transientSubstrings) {
				continue
			}
			stderrTail += line + "\n"
			if len(stderrTail) > 200 {
				stderrTail = stderrTail[len(stderrTail)-200:]
			}
		}
	}()

	lines := make(chan map[string]any, 16)
	stdoutDone := make(chan struct{})
	go func() {
		defer close(stdoutDone)
		defer close(lines)
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			raw := sc.Bytes()
			if len(strings.TrimSpace(string(raw))) == 0 {
				continue
			}
			var obj map[string]any
			if err := json.Unmarshal(raw, &obj); err != nil {
				continue
			}
			select {
			case lines <- obj:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancelled := false
	for obj := range lines {
		typ, _ := obj["type"].(string)
		line := ndjson.Line{Type: typ, Raw: obj}
		for _, evt := range a.table.Translate(line) {
			if evt.Type == agentevent.Error && ndjson.IsTransient(evt.Content, a.transientSubstrings) {
				continue
			}
			seq.Emit(evt)
			a.resolveToolUse(ctx, evt, seq)
		}
		if ctx.Err() != nil {
			cancelled = true
			break
		}
	}

	<-stdoutDone
	<-stderrDone

	err = cmd.Wait()

	if cancelled || ctx.Err() != nil {
		// Cancelled: silent termination, no error event, final done carries
		// no content (spec §7 Cancelled).
		seq.Emit(agentevent.Event{Type: agentevent.Done})
		return
	}

	if err != nil {
		streamErr := &pocketerr.BackendStreamError{Backend: a.name, Detail: stderrTail}
		a.log.Warn("backend.stream_error", "error", streamErr)
		seq.Emit(agentevent.Event{Type: agentevent.Error, Content: streamErr.Error()})
	}
	seq.Emit(agentevent.Event{Type: agentevent.Done})
}

// resolveToolUse executes evt against the configured tool bridge, if any,
// and emits the resulting tool_result event. A call that fails to execute
// still produces a tool_result carrying the error text — the backend
// process, not this adapter, decides whether to retry.
func (a *SubprocessAdapter) resolveToolUse(ctx context.Context, evt agentevent.Event, seq *agentevent.Sequence) {
	if evt.Type != agentevent.ToolUse || a.toolBridge == nil {
		return
	}
	call, ok := evt.Metadata["tool"].(agentevent.ToolCall)
	if !ok {
		return
	}
	result, err := a.toolBridge.CallTool(ctx, call.Name, call.Arguments)
	if err != nil {
		seq.Emit(agentevent.Event{Type: agentevent.ToolResult, Content: err.Error()})
		return
	}
	seq.Emit(agentevent.Event{Type: agentevent.ToolResult, Content: result})
}

func (a *SubprocessAdapter) emitFatal(seq *agentevent.Sequence, msg string) {
	seq.Emit(agentevent.Event{Type: agentevent.Error, Content: msg})
	seq.Emit(agentevent.Event{Type: agentevent.Done})
}

// Stop sets a cancel flag and sends terminate to the process group.
func (a *SubprocessAdapter) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

