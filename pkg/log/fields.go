package log

const (
	// Outbound request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"

	// Actor
	FieldViewerID = "viewer_id"

	// Service
	FieldService = "service"

	// Chat
	FieldConversationID = "conversation_id"
	FieldMessageID      = "message_id"
	FieldLoadToken      = "load_token"
	FieldCursor         = "cursor"

	// Realtime
	FieldTopic        = "topic"
	FieldDriver       = "driver"
	FieldConnectionID = "connection_id"
)
