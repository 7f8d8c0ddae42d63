package observability

// EventEnvelope wraps everything mirrored to the event exchange: fanout
// copies and websocket lifecycle events share the shape, distinguished by
// EventType.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// BuildHeaders assembles AMQP message headers carrying request correlation;
// empty values are omitted rather than published blank.
func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
