package models

import "encoding/json"

// SideEffects classifies whether a tool call should be summarized in CONTEXT or fully recorded
// in TOOL_RESULT when its output is appended to a conversation.
type SideEffects string

const (
	// SideEffectsNone marks read-only tools; their results may be compacted into CONTEXT.
	SideEffectsNone SideEffects = "none"
	// SideEffectsMutating marks tools that change external state; results stay in TOOL_RESULT.
	SideEffectsMutating SideEffects = "mutating"
)

// ToolDescriptor is the registration-time shape of a tool: name, schema, and execution policy.
// Names are unique within a registry; re-registering the same name with an identical
// descriptor is a no-op, and with a different InputSchema is an error.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
	TimeoutMS   int             `json:"timeout_ms,omitempty"`
	SideEffects SideEffects     `json:"side_effects,omitempty"`
	Category    string          `json:"category,omitempty"`
}

// Equal reports whether two descriptors are identical for idempotent-registration purposes.
func (d ToolDescriptor) Equal(other ToolDescriptor) bool {
	return d.Name == other.Name &&
		d.Description == other.Description &&
		string(d.InputSchema) == string(other.InputSchema) &&
		d.TimeoutMS == other.TimeoutMS &&
		d.SideEffects == other.SideEffects &&
		d.Category == other.Category
}

// ToolExecResult is the dispatcher's structured outcome of invoking a tool, independent of the
// ToolResult message representation — it additionally carries timing and the ok/timed_out
// discriminators named by the contract.
type ToolExecResult struct {
	OK         bool            `json:"ok"`
	Value      json.RawMessage `json:"value,omitempty"`
	Error      string          `json:"error,omitempty"`
	ReturnCode *int            `json:"returncode,omitempty"`
	TimedOut   bool            `json:"timed_out"`
}

// ShellResult is the stable JSON object shell-like tools return on non-zero exit, per the
// dispatcher's execution policy.
type ShellResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"returncode"`
}
