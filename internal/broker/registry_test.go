package broker

import "testing"

func TestRegistryMatchAndCall(t *testing.T) {
	var r registry
	var gotA, gotB []string

	r.add("sensor/+", func(topic string, payload []byte, props map[string]string) {
		gotA = append(gotA, topic)
	})
	r.add("sensor/temp", func(topic string, payload []byte, props map[string]string) {
		gotB = append(gotB, topic)
	})
	r.add("other/#", func(topic string, payload []byte, props map[string]string) {
		t.Errorf("unrelated pattern should not have matched %q", topic)
	})

	r.matchAndCall("sensor/temp", []byte("23.5"), nil)

	if len(gotA) != 1 || gotA[0] != "sensor/temp" {
		t.Errorf("wildcard callback: got %v", gotA)
	}
	if len(gotB) != 1 || gotB[0] != "sensor/temp" {
		t.Errorf("literal callback: got %v", gotB)
	}
}

func TestRegistryRemove(t *testing.T) {
	var r registry
	called := false
	r.add("a/b", func(string, []byte, map[string]string) { called = true })

	if removed := r.remove("not/registered"); removed {
		t.Fatal("remove reported success for an unregistered pattern")
	}
	if removed := r.remove("a/b"); !removed {
		t.Fatal("remove reported failure for a registered pattern")
	}

	r.matchAndCall("a/b", nil, nil)
	if called {
		t.Fatal("removed callback was still invoked")
	}
}

func TestRegistryPropsPassthrough(t *testing.T) {
	var r registry
	var got map[string]string
	r.add("reply/+", func(_ string, _ []byte, props map[string]string) { got = props })

	r.matchAndCall("reply/42", nil, map[string]string{SeqUserProp: "3", EndUserProp: "0"})
	if got[SeqUserProp] != "3" || got[EndUserProp] != "0" {
		t.Fatalf("props not passed through: %v", got)
	}
}
