package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root of every LayerFlow topic when the
// configuration does not override it.
const DefaultTopicPrefix = "layerflow"

// Topics builds LayerFlow MQTT topics under a common prefix.
//
// Session traffic is scoped per workflow:
//
//	{prefix}/session/{workflow_id}/command   inbound commands (not retained)
//	{prefix}/session/{workflow_id}/state     canvas state after each change
//	{prefix}/session/{workflow_id}/result    outcome of each command
//	{prefix}/session/{workflow_id}/save      autosave status (retained)
//	{prefix}/system/status                   online/offline with LWT (retained)
//
// The zero value uses DefaultTopicPrefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// SessionCommand returns the inbound command topic for a workflow session.
//
// Example: layerflow/session/6f1c.../command
func (t Topics) SessionCommand(workflowID string) string {
	return fmt.Sprintf("%s/session/%s/command", t.prefix(), workflowID)
}

// SessionState returns the topic carrying canvas state after each command.
//
// Example: layerflow/session/6f1c.../state
func (t Topics) SessionState(workflowID string) string {
	return fmt.Sprintf("%s/session/%s/state", t.prefix(), workflowID)
}

// SessionResult returns the topic answering each command, keyed by its
// request_id.
//
// Example: layerflow/session/6f1c.../result
func (t Topics) SessionResult(workflowID string) string {
	return fmt.Sprintf("%s/session/%s/result", t.prefix(), workflowID)
}

// SessionSave returns the retained autosave status topic for a workflow.
//
// Example: layerflow/session/6f1c.../save
func (t Topics) SessionSave(workflowID string) string {
	return fmt.Sprintf("%s/session/%s/save", t.prefix(), workflowID)
}

// SystemStatus returns the system status topic.
//
// Example: layerflow/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix())
}

// AllSessionCommands returns a pattern matching every session command topic.
//
// Pattern: layerflow/session/+/command
func (t Topics) AllSessionCommands() string {
	return fmt.Sprintf("%s/session/+/command", t.prefix())
}

// AllTopics returns a pattern matching all LayerFlow topics.
//
// Pattern: layerflow/#
func (t Topics) AllTopics() string {
	return t.prefix() + "/#"
}

// WorkflowFromTopic extracts the workflow id from a session topic such as
// "layerflow/session/{id}/command". It returns false when topic is not a
// session topic under this prefix.
func (t Topics) WorkflowFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/session/")
	if !ok {
		return "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[0], true
}
