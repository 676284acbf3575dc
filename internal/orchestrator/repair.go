package orchestrator

import (
	"github.com/docsage/docsage/pkg/models"
)

// RepairTranscript drops messages that would make the wire conversation
// invalid: tool messages whose tool_call_id does not answer a call from the
// nearest preceding assistant message, and assistant tool_calls entries whose
// results were lost. Callers hand back histories that client-side trimming
// may have damaged; providers reject such transcripts outright.
func RepairTranscript(messages []models.Message) []models.Message {
	if len(messages) == 0 {
		return nil
	}

	out := make([]models.Message, 0, len(messages))
	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		switch {
		case msg.Role == models.RoleTool:
			// Reached only when the message did not follow an assistant
			// with a matching call; orphans are dropped.
			continue

		case msg.Role == models.RoleAssistant && len(msg.ToolCalls) > 0:
			// Collect the answered subset of this assistant's calls.
			answered := map[string]models.Message{}
			j := i + 1
			for ; j < len(messages) && messages[j].Role == models.RoleTool; j++ {
				for _, call := range msg.ToolCalls {
					if call.ID == messages[j].ToolCallID {
						answered[call.ID] = messages[j]
						break
					}
				}
			}

			kept := msg
			kept.ToolCalls = nil
			for _, call := range msg.ToolCalls {
				if _, ok := answered[call.ID]; ok {
					kept.ToolCalls = append(kept.ToolCalls, call)
				}
			}

			if len(kept.ToolCalls) == 0 {
				// No surviving results. Keep the assistant text if it has
				// any; a bare tool-call shell is dropped.
				if kept.Content != "" {
					out = append(out, kept)
				}
			} else {
				out = append(out, kept)
				for _, call := range kept.ToolCalls {
					out = append(out, answered[call.ID])
				}
			}
			i = j - 1

		default:
			out = append(out, msg)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
