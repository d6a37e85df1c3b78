package mqtt

import (
	"strings"

	"github.com/wireproto/mqttc/topic"
)

// messageFilter gates inbound PUBLISH delivery against an optional
// list of topic-filter patterns. It is built once per Client from
// ClientOptions.Filters on top of topic.MemoryTrie, the wildcard
// matcher of the topic package. An empty filter list disables
// filtering entirely: every inbound PUBLISH is delivered.
type messageFilter struct {
	enabled bool
	trie    *topic.MemoryTrie
}

func newMessageFilter(patterns []string) *messageFilter {
	if len(patterns) == 0 {
		return &messageFilter{enabled: false}
	}
	trie := topic.NewMemoryTrie()
	for _, p := range patterns {
		_ = trie.Subscribe(sharedFilterTopic(p))
	}
	return &messageFilter{enabled: true, trie: trie}
}

// sharedFilterTopic strips the $share/<group>/ prefix from a shared
// subscription filter: the broker delivers matching messages on the
// underlying topic, so that is what inbound filtering must match
// against.
func sharedFilterTopic(filter string) string {
	rest, ok := strings.CutPrefix(filter, "$share/")
	if !ok {
		return filter
	}
	if _, sub, ok := strings.Cut(rest, "/"); ok && sub != "" {
		return sub
	}
	return filter
}

// Allows reports whether a resolved topic name should be delivered to
// the application handler. Callers resolve topic aliases first, so
// matching always sees a full topic name.
func (f *messageFilter) Allows(topicName string) bool {
	if !f.enabled {
		return true
	}
	_, ok := f.trie.Find(topicName)
	return ok
}
