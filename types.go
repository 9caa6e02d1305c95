package talkbase

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Timestamps
// ============================================================================

// Timestamp is a point in time in Unix milliseconds. Stored as a JSON number
// so document queries can order on it without parsing.
type Timestamp int64

// NowTimestamp returns the current wall-clock time as a Timestamp.
func NowTimestamp() Timestamp {
	return Timestamp(time.Now().UnixMilli())
}

// TimestampOf converts a time.Time to a Timestamp.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// Time converts the Timestamp back to a time.Time.
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t))
}

// IsZero reports whether the timestamp is unset.
func (t Timestamp) IsZero() bool { return t == 0 }

// ============================================================================
// Users & presence
// ============================================================================

// User is a profile document in the "users" collection.
type User struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PhotoURL     string    `json:"photoURL,omitempty"`
	Status       string    `json:"status,omitempty"`
	Online       bool      `json:"online"`
	LastSeen     Timestamp `json:"lastSeen,omitempty"`
	CreatedAt    Timestamp `json:"createdAt,omitempty"`
	PushToken    string    `json:"pushToken,omitempty"`
	BlockedUsers []string  `json:"blockedUsers,omitempty"`
	IncomingCall *CallRef  `json:"incomingCall,omitempty"`
}

// Presence is the subset of a profile that presence subscriptions deliver.
type Presence struct {
	UID      string    `json:"uid"`
	Online   bool      `json:"online"`
	Status   string    `json:"status,omitempty"`
	LastSeen Timestamp `json:"lastSeen,omitempty"`
}

// ============================================================================
// Rooms
// ============================================================================

// Participant is the denormalized profile snapshot stored on a room record.
type Participant struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

// LastMessage is the denormalized last-message summary on a room record,
// kept so list rendering never joins against the message log.
type LastMessage struct {
	Text      string      `json:"text"`
	Timestamp Timestamp   `json:"timestamp"`
	SenderID  string      `json:"senderId"`
	Kind      MessageKind `json:"kind"`
}

// Room is a 1:1 conversation container. Its ID is the sorted, underscore-
// joined pair of participant ids (see RoomID), so either participant computes
// the same room without a handshake.
type Room struct {
	ID                 string                 `json:"id"`
	Participants       []string               `json:"participants"`
	ParticipantDetails map[string]Participant `json:"participantDetails"`
	LastMessage        *LastMessage           `json:"lastMessage,omitempty"`
	LastActivityAt     Timestamp              `json:"lastActivityAt"`
	MessageCount       int                    `json:"messageCount"`
	CreatedAt          Timestamp              `json:"createdAt"`
}

// Other returns the participant id that is not uid, for list rendering.
func (r *Room) Other(uid string) string {
	for _, p := range r.Participants {
		if p != uid {
			return p
		}
	}
	return ""
}

// ============================================================================
// Messages
// ============================================================================

// MessageKind categorizes message content.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindAudio    MessageKind = "audio"
	KindPDF      MessageKind = "pdf"
	KindDocument MessageKind = "document"
	KindFile     MessageKind = "file"
)

// Attachment describes a pre-uploaded file referenced by a non-text message.
type Attachment struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

// Message is one entry in a room's append-only log. ID and SentAt are
// assigned at creation and never change; Edited/EditedAt are set only by an
// explicit edit.
type Message struct {
	ID          string              `json:"id"`
	RoomID      string              `json:"roomId"`
	SenderID    string              `json:"senderId"`
	SenderName  string              `json:"senderName"`
	SenderEmail string              `json:"senderEmail,omitempty"`
	Kind        MessageKind         `json:"kind"`
	Text        string              `json:"text,omitempty"`
	Attachment  *Attachment         `json:"attachment,omitempty"`
	SentAt      Timestamp           `json:"sentAt"`
	Edited      bool                `json:"edited,omitempty"`
	EditedAt    Timestamp           `json:"editedAt,omitempty"`
	Reactions   map[string][]string `json:"reactions,omitempty"`
}

// Preview returns the text used for room list and notification previews.
func (m *Message) Preview() string {
	if m.Kind == KindText {
		return m.Text
	}
	if m.Attachment != nil && m.Attachment.FileName != "" {
		return m.Attachment.FileName
	}
	return "File"
}

// ============================================================================
// Notifications
// ============================================================================

// NotificationKind selects the payload variant of a notification.
type NotificationKind string

const (
	NotifyMessage   NotificationKind = "message"
	NotifyCall      NotificationKind = "call"
	NotifyCommunity NotificationKind = "community"
	NotifyStatus    NotificationKind = "status"
)

// NotificationPayload is the tagged union of per-kind payload shapes.
// Exactly one implementation exists per NotificationKind.
type NotificationPayload interface {
	notificationKind() NotificationKind
}

// MessagePayload accompanies NotifyMessage.
type MessagePayload struct {
	RoomID     string `json:"roomId"`
	Preview    string `json:"preview"`
	SenderName string `json:"senderName"`
}

func (MessagePayload) notificationKind() NotificationKind { return NotifyMessage }

// CallPayload accompanies NotifyCall.
type CallPayload struct {
	CallID     string `json:"callId"`
	RoomID     string `json:"roomId"`
	CallerName string `json:"callerName"`
}

func (CallPayload) notificationKind() NotificationKind { return NotifyCall }

// CommunityPayload accompanies NotifyCommunity.
type CommunityPayload struct {
	CommunityID string `json:"communityId"`
	Preview     string `json:"preview"`
	SenderName  string `json:"senderName"`
}

func (CommunityPayload) notificationKind() NotificationKind { return NotifyCommunity }

// StatusPayload accompanies NotifyStatus.
type StatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

func (StatusPayload) notificationKind() NotificationKind { return NotifyStatus }

// Notification is a per-recipient record of a room or community event.
// Created whenever an event's recipient differs from its actor; mutated only
// by read-state transitions.
type Notification struct {
	ID          string              `json:"id"`
	RecipientID string              `json:"recipientId"`
	SenderID    string              `json:"senderId"`
	Kind        NotificationKind    `json:"kind"`
	Payload     NotificationPayload `json:"-"`
	RawPayload  json.RawMessage     `json:"payload,omitempty"`
	Read        bool                `json:"read"`
	ReadAt      Timestamp           `json:"readAt,omitempty"`
	CreatedAt   Timestamp           `json:"createdAt"`
}

// MarshalJSON encodes the typed payload into the raw field.
func (n Notification) MarshalJSON() ([]byte, error) {
	type alias Notification
	a := alias(n)
	if n.Payload != nil {
		raw, err := json.Marshal(n.Payload)
		if err != nil {
			return nil, err
		}
		a.RawPayload = raw
	}
	return json.Marshal(a)
}

// UnmarshalJSON decodes the raw payload into the variant selected by Kind.
func (n *Notification) UnmarshalJSON(data []byte) error {
	type alias Notification
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*n = Notification(a)
	if len(n.RawPayload) == 0 {
		return nil
	}
	switch n.Kind {
	case NotifyMessage:
		var p MessagePayload
		if err := json.Unmarshal(n.RawPayload, &p); err != nil {
			return err
		}
		n.Payload = p
	case NotifyCall:
		var p CallPayload
		if err := json.Unmarshal(n.RawPayload, &p); err != nil {
			return err
		}
		n.Payload = p
	case NotifyCommunity:
		var p CommunityPayload
		if err := json.Unmarshal(n.RawPayload, &p); err != nil {
			return err
		}
		n.Payload = p
	case NotifyStatus:
		var p StatusPayload
		if err := json.Unmarshal(n.RawPayload, &p); err != nil {
			return err
		}
		n.Payload = p
	default:
		return fmt.Errorf("unknown notification kind %q", n.Kind)
	}
	return nil
}

// RoomID returns the room the notification points at, or "" for kinds that
// are not room-scoped.
func (n *Notification) RoomID() string {
	switch p := n.Payload.(type) {
	case MessagePayload:
		return p.RoomID
	case CallPayload:
		return p.RoomID
	default:
		return ""
	}
}

// ============================================================================
// Communities
// ============================================================================

// CommunityMember is a denormalized member snapshot on a community record.
type CommunityMember struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

// Community is a group conversation container with explicit membership.
type Community struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	ImageURL       string            `json:"imageUrl,omitempty"`
	CreatedBy      string            `json:"createdBy"`
	CreatedAt      Timestamp         `json:"createdAt"`
	LastActivityAt Timestamp         `json:"lastActivityAt"`
	Members        []CommunityMember `json:"members"`
	MemberUIDs     []string          `json:"memberUids"`
	MemberCount    int               `json:"memberCount"`
	Private        bool              `json:"private,omitempty"`
}

// IsMember reports whether uid belongs to the community.
func (c *Community) IsMember(uid string) bool {
	for _, m := range c.MemberUIDs {
		if m == uid {
			return true
		}
	}
	return false
}

// ============================================================================
// Calls
// ============================================================================

// CallStatus is the lifecycle state of a call record.
type CallStatus string

const (
	CallRinging CallStatus = "calling"
	CallEnded   CallStatus = "ended"
)

// Call is a call record in the "calls" collection.
type Call struct {
	ID         string     `json:"id"`
	CallerID   string     `json:"callerId"`
	ReceiverID string     `json:"receiverId"`
	CallerName string     `json:"callerName"`
	RoomID     string     `json:"roomId"`
	Status     CallStatus `json:"status"`
	StartedAt  Timestamp  `json:"startedAt"`
	EndedAt    Timestamp  `json:"endedAt,omitempty"`
}

// CallRef is the incoming-call marker set on the callee's profile while a
// call is ringing.
type CallRef struct {
	CallID     string `json:"callId"`
	CallerID   string `json:"callerId"`
	CallerName string `json:"callerName"`
}
