package broker

import "errors"

// ErrInvalidPattern is returned when Subscribe is given a malformed topic
// filter (see internal/topicmatch.Valid).
var ErrInvalidPattern = errors.New("broker: invalid subscription pattern")

// ErrBrokerRejected wraps any broker-side rejection: a non-zero CONNACK
// reason code or a PUBLISH/SUBSCRIBE that errors at the protocol level.
var ErrBrokerRejected = errors.New("broker: rejected by broker")
