package topicmatch

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"sensor/#", "sensor/t", true},
		{"sensor/#", "sensor/t/deep", true},
		{"sensor/#", "sensor", false},
		{"test/+", "test/a", true},
		{"test/+", "test/a/b", false},
		{"test/+/x", "test/a/x", true},
		{"test/+/x", "test/a/b/x", false},
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/b/d", false},
		{"#", "anything/at/all", true},
		{"+", "single", true},
		{"+", "two/levels", false},
	}
	for _, c := range cases {
		if got := Match(c.pattern, c.topic); got != c.want {
			t.Errorf("Match(%q, %q) = %v, want %v", c.pattern, c.topic, got, c.want)
		}
	}
}

func TestValid(t *testing.T) {
	valid := []string{"a/b/c", "a/+/c", "a/b/#", "#", "+"}
	invalid := []string{"a/#/c", "a/b#", "a/+b", "#/a"}

	for _, p := range valid {
		if !Valid(p) {
			t.Errorf("Valid(%q) = false, want true", p)
		}
	}
	for _, p := range invalid {
		if Valid(p) {
			t.Errorf("Valid(%q) = true, want false", p)
		}
	}
}
