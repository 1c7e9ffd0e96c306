package models

// Event names published on the request bus.
const (
	EventRequestCreated = "request_created"
	EventRequestUpdated = "request_updated"
	EventRequestDecided = "request_decided"
	EventRequestDeleted = "request_deleted"
)

// RequestEvent is the payload broadcast to a requester's realtime channels
// whenever one of their access requests changes.
type RequestEvent struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	UserID    string `json:"userId"`
	Version   int    `json:"version"`
}
