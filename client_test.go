package aitt

import (
	"errors"
	"testing"

	"github.com/aittgo/aitt/internal/broker"
	"github.com/aittgo/aitt/internal/debugsrv"
	"github.com/aittgo/aitt/internal/engine"
)

func TestTranslateEngineErrMapsSentinels(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{engine.ErrInvalidParameter, ErrInvalidParameter},
		{engine.ErrNotReady, ErrNotReady},
		{engine.ErrTimedOut, ErrTimedOut},
		{broker.ErrBrokerRejected, ErrBrokerError},
		{broker.ErrInvalidPattern, ErrBrokerError},
		{errors.New("some other failure"), ErrSystem},
	}
	for _, c := range cases {
		got := translateEngineErr(c.in)
		if !errors.Is(got, c.want) {
			t.Errorf("translateEngineErr(%v) = %v, want wrapping %v", c.in, got, c.want)
		}
	}
}

func TestBumpPublishCountersOnlyIncrementsMaskedTransports(t *testing.T) {
	m := debugsrv.NewMetrics()
	bumpPublishCounters(m, MQTT|WebRTC)

	if got := m.PublishesTotal.MQTT.Get(); got != 1 {
		t.Errorf("mqtt counter = %d, want 1", got)
	}
	if got := m.PublishesTotal.WebRTC.Get(); got != 1 {
		t.Errorf("webrtc counter = %d, want 1", got)
	}
	if got := m.PublishesTotal.TCP.Get(); got != 0 {
		t.Errorf("tcp counter = %d, want 0", got)
	}
	if got := m.PublishesTotal.TCPSecure.Get(); got != 0 {
		t.Errorf("tcp_secure counter = %d, want 0", got)
	}
}
