package logging

const (
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	FieldUserID   = "user_id"
	FieldRoomID   = "chat_room_id"
	FieldConnID   = "conn_id"
	FieldPosition = "position"

	FieldService  = "service"
	FieldInstance = "instance"
)
