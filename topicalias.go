package mqtt

import (
	"sync"

	"github.com/wireproto/mqttc/packet"
)

// topicAliasOutcome reports what the outbound alias manager decided for
// a given publish: assign a brand-new alias, reuse an existing one, or
// leave the publish unaliased entirely.
type topicAliasOutcome int

const (
	topicAliasNone topicAliasOutcome = iota
	topicAliasNew
	topicAliasReuse
)

// outboundTopicAliases assigns and tracks broker-bound topic aliases
// with mirror topic<->alias maps. On REUSE the caller still sends the
// topic name alongside the alias rather than blanking it to save
// bytes: a server is never required to remember an alias across
// reconnects, and a dropped topic name on a stale alias is a protocol
// error, not a bandwidth win. Callers that want the saving anyway can
// publish with an explicit empty topic.
type outboundTopicAliases struct {
	mu      sync.Mutex
	max     uint16
	next    uint16
	byTopic map[string]uint16
}

func newOutboundTopicAliases(max uint16) *outboundTopicAliases {
	return &outboundTopicAliases{
		max:     max,
		next:    1,
		byTopic: make(map[string]uint16),
	}
}

// Assign returns the alias to attach to a publish of topic, along with
// the outcome. The topic name itself is always returned by the caller
// regardless of outcome; this only decides the alias number.
func (o *outboundTopicAliases) Assign(topic string) (alias uint16, outcome topicAliasOutcome) {
	if o.max == 0 {
		return 0, topicAliasNone
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.byTopic[topic]; ok {
		return existing, topicAliasReuse
	}
	if o.next > o.max {
		return 0, topicAliasNone
	}
	alias = o.next
	o.next++
	o.byTopic[topic] = alias
	return alias, topicAliasNew
}

// Reset clears all assigned aliases, called on reconnect since aliases
// are only valid for the lifetime of a single network connection
// [MQTT-3.3.2-7].
func (o *outboundTopicAliases) Reset(max uint16) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.max = max
	o.next = 1
	o.byTopic = make(map[string]uint16)
}

// inboundTopicAliases resolves broker-assigned aliases on inbound
// PUBLISH packets back to topic names.
type inboundTopicAliases struct {
	mu       sync.Mutex
	byAlias  map[uint16]string
	maxAlias uint16
}

func newInboundTopicAliases(max uint16) *inboundTopicAliases {
	return &inboundTopicAliases{byAlias: make(map[uint16]string), maxAlias: max}
}

// Resolve handles one inbound PUBLISH's (topic, alias) pair per
// [MQTT-3.3.2-3] through [MQTT-3.3.2-8]:
//   - alias == 0: no alias in use, topic must be non-empty, passed through.
//   - alias != 0, topic != "": registers/overwrites the mapping (treated
//     as an update, not an error, resolving the server's latitude to
//     reassign an alias mid-connection) and returns topic.
//   - alias != 0, topic == "": looks up the previously registered topic;
//     a miss is a protocol error.
func (i *inboundTopicAliases) Resolve(topic string, alias uint16) (string, error) {
	if alias == 0 {
		return topic, nil
	}
	if i.maxAlias != 0 && alias > i.maxAlias {
		return "", &ProtocolError{Reason: packet.ErrTopicAliasInvalid, Detail: "topic alias exceeds negotiated maximum"}
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if topic != "" {
		i.byAlias[alias] = topic
		return topic, nil
	}
	resolved, ok := i.byAlias[alias]
	if !ok {
		return "", &ProtocolError{Reason: packet.ErrTopicAliasInvalid, Detail: "unknown topic alias referenced with no prior registration"}
	}
	return resolved, nil
}

func (i *inboundTopicAliases) Reset(max uint16) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.maxAlias = max
	i.byAlias = make(map[uint16]string)
}
