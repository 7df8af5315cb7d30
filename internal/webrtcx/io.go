package webrtcx

import (
	"bytes"

	"github.com/pion/webrtc/v4"

	"github.com/aittgo/aitt/internal/frame"
)

// writeFrameToDataChannel adapts a webrtc.DataChannel's message-oriented
// Send into the frame codec's io.Writer-oriented WriteMessage by buffering
// the two frames into one in-memory blob and sending it as a single
// data-channel message — the data channel already guarantees ordered,
// reliable delivery, so no additional framing is needed at this layer.
func writeFrameToDataChannel(dc *webrtc.DataChannel, topic string, payload []byte) error {
	var buf bytes.Buffer
	if err := frame.WriteMessage(&buf, topic, payload); err != nil {
		return err
	}
	return dc.Send(buf.Bytes())
}

func newBytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
