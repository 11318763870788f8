package mq

import "time"

// RoutingKeyRequestReceived is published once per persisted request row so
// fulfillment workers can pick up pending work without polling.
const RoutingKeyRequestReceived = "request.received"

type RequestReceivedPayload struct {
	RequestType    string    `json:"request_type"`
	RequestID      string    `json:"request_id"`
	UserEmail      string    `json:"user_email"`
	ProcessorEmail string    `json:"processor_email"`
	ReceivedAt     time.Time `json:"received_at"`
}
