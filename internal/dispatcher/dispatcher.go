// Package dispatcher implements the Tool Dispatcher: a registry of tools with
// JSON-schema'd inputs, validated and executed with per-tool timeouts, and structured results
// that never cross the boundary as panics or bare errors.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fenwick-ai/corerun/internal/events"
	"github.com/fenwick-ai/corerun/internal/jobs"
	"github.com/fenwick-ai/corerun/internal/observability"
	"github.com/fenwick-ai/corerun/internal/tools/policy"
	"github.com/fenwick-ai/corerun/pkg/models"
)

// ErrNotFound is returned by Execute and SchemaFor when no tool is registered under the name.
var ErrNotFound = fmt.Errorf("dispatcher: tool not found")

// ErrConflict is returned by Register when a different descriptor is already registered under
// the same name returns ErrConflict instead.
var ErrConflict = fmt.Errorf("dispatcher: conflicting registration")

// Handler executes one tool call. It must never panic across the dispatcher boundary; any
// panic is recovered by Execute and converted into a ToolExecResult. Handlers are expected to
// respect ctx's deadline; the dispatcher only tracks total elapsed time, it does not forcibly
// kill goroutines that ignore cancellation — the tool's own cleanup is the tool's responsibility.
type Handler func(ctx context.Context, input json.RawMessage) (*models.ToolExecResult, error)

type registration struct {
	descriptor models.ToolDescriptor
	handler    Handler
	schema     *jsonschema.Schema
}

// Dispatcher is the tool registry and execution path.
type Dispatcher struct {
	mu    sync.RWMutex
	tools map[string]*registration

	resolver *policy.Resolver
	jobs     jobs.Store
	sink     events.Sink
	metrics  *observability.Metrics

	defaultTimeout time.Duration
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithPolicy installs an allow/deny resolver consulted before every Execute call.
func WithPolicy(resolver *policy.Resolver) Option {
	return func(d *Dispatcher) { d.resolver = resolver }
}

// WithJobStore installs the store used for asynchronous tool executions (ExecuteAsync).
func WithJobStore(store jobs.Store) Option {
	return func(d *Dispatcher) { d.jobs = store }
}

// WithEventSink installs the sink that receives `tool_invocation` and `error` events.
func WithEventSink(sink events.Sink) Option {
	return func(d *Dispatcher) { d.sink = sink }
}

// WithDefaultTimeout sets the timeout applied when a descriptor doesn't name its own
// TimeoutMS.
func WithDefaultTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.defaultTimeout = d }
}

// WithMetrics installs the Prometheus collectors every Execute call reports against. A nil
// Metrics, the default, disables instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates an empty Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		tools:          make(map[string]*registration),
		defaultTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds name -> handler to the registry. Re-registering the same name with an
// identical descriptor is a no-op; re-registering with a different descriptor returns
// ErrConflict.
func (d *Dispatcher) Register(descriptor models.ToolDescriptor, handler Handler) error {
	if descriptor.Name == "" {
		return fmt.Errorf("dispatcher: descriptor.Name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("dispatcher: handler must not be nil")
	}

	var schema *jsonschema.Schema
	if len(descriptor.InputSchema) > 0 {
		compiled, err := compileSchema(descriptor.Name, descriptor.InputSchema)
		if err != nil {
			return fmt.Errorf("dispatcher: compile schema for %q: %w", descriptor.Name, err)
		}
		schema = compiled
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.tools[descriptor.Name]; ok {
		if existing.descriptor.Equal(descriptor) {
			return nil
		}
		return fmt.Errorf("%w: %q already registered with a different descriptor", ErrConflict, descriptor.Name)
	}
	d.tools[descriptor.Name] = &registration{descriptor: descriptor, handler: handler, schema: schema}
	return nil
}

// List returns every registered descriptor.
func (d *Dispatcher) List() []models.ToolDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.ToolDescriptor, 0, len(d.tools))
	for _, r := range d.tools {
		out = append(out, r.descriptor)
	}
	return out
}

// SchemaFor returns the input schema registered for name.
func (d *Dispatcher) SchemaFor(name string) (json.RawMessage, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.tools[name]
	if !ok {
		return nil, ErrNotFound
	}
	return r.descriptor.InputSchema, nil
}

// Execute validates input against the tool's schema, enforces the per-tool (or default)
// timeout, and runs the handler, always returning a populated ToolExecResult rather than a
// bare error: tool failures never propagate as exceptions across this boundary.
func (d *Dispatcher) Execute(ctx context.Context, name string, input map[string]any) *models.ToolExecResult {
	start := time.Now()
	d.mu.RLock()
	r, ok := d.tools[name]
	d.mu.RUnlock()

	if !ok {
		res := errorResult(fmt.Sprintf("tool not found: %s", name))
		d.emitInvocation(name, input, res, time.Since(start))
		return res
	}

	if d.resolver != nil {
		if tp := policyFromContext(ctx); tp != nil && !d.resolver.IsAllowed(tp, name) {
			res := errorResult(fmt.Sprintf("tool %q is not permitted by policy", name))
			d.emitInvocation(name, input, res, time.Since(start))
			return res
		}
	}

	raw, err := json.Marshal(input)
	if err != nil {
		res := errorResult(fmt.Sprintf("encode input: %v", err))
		d.emitInvocation(name, input, res, time.Since(start))
		return res
	}

	if r.schema != nil {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			if err := r.schema.Validate(decoded); err != nil {
				res := errorResult(fmt.Sprintf("input validation failed: %v", err))
				d.emitInvocation(name, input, res, time.Since(start))
				return res
			}
		}
	}

	timeout := time.Duration(r.descriptor.TimeoutMS) * time.Millisecond
	if r.descriptor.TimeoutMS == 0 {
		timeout = d.defaultTimeout
	}

	res := d.runWithDeadline(ctx, r, raw, timeout)
	d.emitInvocation(name, input, res, time.Since(start))
	return res
}

func (d *Dispatcher) runWithDeadline(ctx context.Context, r *registration, raw json.RawMessage, timeout time.Duration) (result *models.ToolExecResult) {
	if timeout <= 0 {
		return &models.ToolExecResult{TimedOut: true, Error: "tool timeout_ms=0: no time budget allotted"}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *models.ToolExecResult
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{res: errorResult(fmt.Sprintf("tool panicked: %v", p))}
			}
		}()
		res, err := r.handler(runCtx, raw)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return errorResult(o.err.Error())
		}
		if o.res == nil {
			return &models.ToolExecResult{OK: true}
		}
		return o.res
	case <-runCtx.Done():
		return &models.ToolExecResult{TimedOut: true, Error: fmt.Sprintf("tool %q timed out after %s", r.descriptor.Name, timeout)}
	}
}

// ExecuteAsync runs a tool in the background, recording its lifecycle in the job store for
// long-running shell/code tools that should not block the caller.
func (d *Dispatcher) ExecuteAsync(ctx context.Context, toolCallID, name string, input map[string]any) (*jobs.Job, error) {
	if d.jobs == nil {
		return nil, fmt.Errorf("dispatcher: no job store configured for async execution")
	}
	job := &jobs.Job{ToolName: name, ToolCallID: toolCallID, Status: jobs.StatusQueued, CreatedAt: time.Now()}
	if err := d.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		job.Status = jobs.StatusRunning
		job.StartedAt = time.Now()
		_ = d.jobs.Update(runCtx, job)

		res := d.Execute(runCtx, name, input)
		job.FinishedAt = time.Now()
		job.Result = toMessageResult(toolCallID, res)
		if res.OK {
			job.Status = jobs.StatusSucceeded
		} else {
			job.Status = jobs.StatusFailed
			job.Error = res.Error
		}
		_ = d.jobs.Update(runCtx, job)
	}()

	return job, nil
}

func (d *Dispatcher) emitInvocation(name string, input map[string]any, res *models.ToolExecResult, dur time.Duration) {
	status := "ok"
	if !res.OK {
		status = "error"
	}
	d.metrics.ObserveToolCall(name, status, res.TimedOut, dur)

	if d.sink == nil {
		return
	}
	summary, _ := json.Marshal(input)
	if len(summary) > 256 {
		summary = append(summary[:256], []byte("...")...)
	}
	d.sink.Emit(events.ToolInvocation("", "", name, string(summary), res.OK, res.TimedOut, dur))
	if !res.OK {
		d.sink.Emit(events.Error("", "", "ToolError", fmt.Errorf("%s", res.Error)))
	}
}

func errorResult(msg string) *models.ToolExecResult {
	return &models.ToolExecResult{OK: false, Error: msg}
}

// toMessageResult converts a dispatcher-level ToolExecResult into the conversation-facing
// ToolResult shape appended as a TOOL_RESULT message.
func toMessageResult(toolCallID string, res *models.ToolExecResult) *models.ToolResult {
	content := string(res.Value)
	if content == "" && res.Error != "" {
		content = res.Error
	}
	return &models.ToolResult{
		ToolCallID: toolCallID,
		Content:    content,
		IsError:    !res.OK,
		TimedOut:   res.TimedOut,
		ReturnCode: res.ReturnCode,
	}
}

// ShellResultJSON serializes a non-zero shell exit into the stable JSON object shell-like
// tools must return: {stdout, stderr, returncode}.
func ShellResultJSON(stdout, stderr string, returnCode int) json.RawMessage {
	b, _ := json.Marshal(models.ShellResult{Stdout: stdout, Stderr: stderr, ReturnCode: returnCode})
	return b
}

var (
	schemaCacheMu sync.Mutex
	schemaCache   = map[string]*jsonschema.Schema{}
)

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	key := name + ":" + string(raw)
	schemaCacheMu.Lock()
	defer schemaCacheMu.Unlock()
	if s, ok := schemaCache[key]; ok {
		return s, nil
	}
	s, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	schemaCache[key] = s
	return s, nil
}

type policyContextKey struct{}

// WithPolicyContext attaches the policy to enforce for calls made under ctx. Neither the
// Conversation Manager nor the Engine calls it; a caller that wants a per-agent policy attaches
// one to the ctx it passes to Execute.
func WithPolicyContext(ctx context.Context, p *policy.Policy) context.Context {
	return context.WithValue(ctx, policyContextKey{}, p)
}

func policyFromContext(ctx context.Context) *policy.Policy {
	p, _ := ctx.Value(policyContextKey{}).(*policy.Policy)
	return p
}
