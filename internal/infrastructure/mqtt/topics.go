package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the config leaves topic_prefix empty.
const DefaultTopicPrefix = "deckvault"

// Topics builds the topics Core publishes to.
//
//	topics := mqtt.NewTopics("deckvault")
//	topics.AuthEvent("logout")  // deckvault/auth/events/logout
//	topics.SystemStatus()       // deckvault/system/status
type Topics struct {
	prefix string
}

// NewTopics returns a builder rooted at prefix. Leading and trailing
// slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of every topic.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// AuthEvent returns the topic for one security event type.
func (t Topics) AuthEvent(eventType string) string {
	return fmt.Sprintf("%s/auth/events/%s", t.Prefix(), eventType)
}

// AllAuthEvents is the wildcard subscription for every security event.
func (t Topics) AllAuthEvents() string {
	return t.Prefix() + "/auth/events/#"
}

// SystemStatus returns the retained online/offline status topic.
func (t Topics) SystemStatus() string {
	return t.Prefix() + "/system/status"
}
