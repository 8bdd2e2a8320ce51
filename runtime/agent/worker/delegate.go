package worker

import (
	"encoding/json"

	"goa.design/agentkernel/runtime/agent"
)

// DelegateSpec describes the delegation tool the kernel turns into worker
// spawns. Its arguments match what the kernel decodes into a WorkerSpec.
func DelegateSpec(name string) agent.ToolSpec {
	return agent.ToolSpec{
		Name:        name,
		Description: "Delegates a self-contained sub-task to a worker agent and returns its final answer.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"task": {"type": "string", "description": "What the worker must accomplish."},
				"max_steps": {"type": "integer", "minimum": 1},
				"shared": {"type": "boolean", "description": "Give the worker access to the coordination board."}
			},
			"required": ["task"],
			"additionalProperties": false
		}`),
	}
}
