package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "panelsense"

// Topics builds the topic tree of the state mirror under a common prefix.
//
//	topics := mqtt.NewTopics("panelsense")
//	topics.EntityState("light", "kitchen")
//	// Returns: "panelsense/light/kitchen/state"
type Topics struct {
	prefix string
}

// NewTopics returns topic builders rooted at prefix. Surrounding slashes
// are trimmed; an empty prefix falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of the topic tree.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// Leaf levels of entity topics.
const (
	stateLeaf   = "state"
	commandLeaf = "set"
)

// EntityState returns the retained state topic of an entity.
//
// Example: panelsense/light/kitchen/state
func (t Topics) EntityState(domain, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Prefix(), domain, objectID, stateLeaf)
}

// EntityCommand returns the topic on which commands for an entity arrive.
//
// Example: panelsense/cover/blinds/set
func (t Topics) EntityCommand(domain, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Prefix(), domain, objectID, commandLeaf)
}

// AllEntityStates matches every entity state topic.
//
// Pattern: panelsense/+/+/state
func (t Topics) AllEntityStates() string {
	return t.Prefix() + "/+/+/" + stateLeaf
}

// AllEntityCommands matches every entity command topic.
//
// Pattern: panelsense/+/+/set
func (t Topics) AllEntityCommands() string {
	return t.Prefix() + "/+/+/" + commandLeaf
}

// SystemStatus returns the retained gateway status topic, also used as the
// Last Will topic.
//
// Example: panelsense/system/status
func (t Topics) SystemStatus() string {
	return t.Prefix() + "/system/status"
}

// ParseCommandTopic splits a command topic into domain and object id.
// It reports false for topics outside the command tree.
func (t Topics) ParseCommandTopic(topic string) (domain, objectID string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Prefix()+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != commandLeaf || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
