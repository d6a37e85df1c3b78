package mqtt

import "testing"

func TestMessageFilterDisabledAllowsEverything(t *testing.T) {
	f := newMessageFilter(nil)
	for _, topic := range []string{"a", "a/b/c", ""} {
		if !f.Allows(topic) {
			t.Errorf("empty filter list must allow %q", topic)
		}
	}
}

func TestMessageFilterWildcards(t *testing.T) {
	f := newMessageFilter([]string{"sensors/+/temp", "logs/#", "exact/topic"})

	cases := []struct {
		topic string
		want  bool
	}{
		{"sensors/kitchen/temp", true},
		{"sensors/kitchen/humidity", false},
		{"sensors/kitchen/temp/extra", false},
		{"logs/app/debug/deep", true},
		{"logs", true}, // # matches the parent level too
		{"exact/topic", true},
		{"exact/topic/deeper", false},
		{"unrelated", false},
	}
	for _, tc := range cases {
		if got := f.Allows(tc.topic); got != tc.want {
			t.Errorf("Allows(%q) = %v, want %v", tc.topic, got, tc.want)
		}
	}
}

func TestMessageFilterSharedSubscription(t *testing.T) {
	f := newMessageFilter([]string{"$share/workers/jobs/+"})
	if !f.Allows("jobs/123") {
		t.Error("expected a shared filter to match on the underlying topic")
	}
	if f.Allows("$share/workers/jobs/123") {
		t.Error("the raw $share prefix never appears in a delivered topic")
	}
}

func TestSharedFilterTopic(t *testing.T) {
	cases := []struct{ in, want string }{
		{"$share/group/sensors/#", "sensors/#"},
		{"$share/group/a", "a"},
		{"plain/filter", "plain/filter"},
		{"$share/", "$share/"},
		{"$share/group", "$share/group"},
	}
	for _, tc := range cases {
		if got := sharedFilterTopic(tc.in); got != tc.want {
			t.Errorf("sharedFilterTopic(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
