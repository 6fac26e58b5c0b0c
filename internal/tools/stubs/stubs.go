// Package stubs registers placeholder tool descriptors for the task/project/memory/note action
// tags the Action Parser's closed tag-name set recognizes but this core does not itself
// implement. Task and project state transitions, and the memory-note store, are a
// tool-implementation concern left to the deployer; the tags still need a descriptor so the
// dispatcher can route them to something rather than rejecting them as unknown names.
package stubs

import (
	"context"
	"encoding/json"

	"github.com/fenwick-ai/corerun/internal/dispatcher"
	"github.com/fenwick-ai/corerun/pkg/models"
)

// names lists every supplemented action the Action Parser recognizes but this core does not
// implement a handler for.
var names = []string{
	"task_create", "task_update", "task_complete", "task_list", "task_details",
	"project_create", "project_update", "project_complete", "project_list", "project_details",
	"subtask_add",
	"memory_search", "add_declarative_note", "add_summary_note",
}

// Register adds a stub descriptor and handler for each name in names to d. Every stub accepts
// any object payload and returns a structured "not implemented" ToolExecResult rather than
// failing registration or routing with ErrNotFound; the tag stays part of the closed set while
// its actual state transitions remain undefined until a deployer wires a real handler in.
func Register(d *dispatcher.Dispatcher) error {
	for _, name := range names {
		desc := models.ToolDescriptor{
			Name:        name,
			Description: "stub: no handler installed for this action in this runtime",
			InputSchema: json.RawMessage(`{"type":"object"}`),
			SideEffects: models.SideEffectsNone,
			Category:    "stub",
		}
		if err := d.Register(desc, notImplementedHandler(name)); err != nil {
			return err
		}
	}
	return nil
}

func notImplementedHandler(name string) dispatcher.Handler {
	return func(ctx context.Context, input json.RawMessage) (*models.ToolExecResult, error) {
		return &models.ToolExecResult{
			OK:    false,
			Error: "tool \"" + name + "\" has no handler installed in this runtime",
		}, nil
	}
}
