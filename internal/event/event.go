package event

import "time"

// Type discriminates the canonical webhook event variants.
type Type string

const (
	TypeMessageReceived Type = "message.received"
	TypeStatusUpdate    Type = "message.status"
	TypeContactUpdate   Type = "contact.update"
)

// Kind is the content kind of an inbound or outbound message.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
)

// Event is the canonical form of a gateway webhook payload. Exactly one of
// Message, Status, Contact is non-nil, matching Type. Events are immutable
// once constructed.
type Event struct {
	ID        string
	ContactID string
	Timestamp time.Time
	Type      Type

	Message *InboundMessage
	Status  *StatusUpdate
	Contact *ContactUpdate
}

// InboundMessage carries the content of a message received from a contact.
type InboundMessage struct {
	Kind        Kind
	Text        string
	MediaURL    string
	Caption     string
	ContactName string
}

// StatusUpdate reports a delivery-state change for a previously sent message.
type StatusUpdate struct {
	MessageID string
	Status    string
}

// ContactUpdate carries profile changes for a known contact.
type ContactUpdate struct {
	Name string
}
