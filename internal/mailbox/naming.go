package mailbox

import "github.com/google/uuid"

// DefaultStreamPrefix namespaces mailbox streams away from other key spaces
// (the external agent registry included) in a shared Redis deployment.
const DefaultStreamPrefix = "beast:mailbox"

// StreamName is the inbox stream key for an agent: {prefix}:{agent_id}:in.
func StreamName(prefix, agentID string) string {
	if prefix == "" {
		prefix = DefaultStreamPrefix
	}
	return prefix + ":" + agentID + ":in"
}

// GroupName is the consumer group an agent's instances share: {agent_id}:group.
func GroupName(agentID string) string {
	return agentID + ":group"
}

// ConsumerName derives a consumer identity unique to this process instance, so
// two concurrently-running instances of the same agent id never collide inside
// the group.
func ConsumerName(agentID string) string {
	return agentID + ":" + uuid.NewString()
}
