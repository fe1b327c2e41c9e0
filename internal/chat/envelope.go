package chat

import (
	"encoding/json"
	"time"
)

// EventType identifies the payload carried by an envelope.
type EventType string

const (
	EventConnected  EventType = "connected"
	EventNewMessage EventType = "new_message"
	EventTyping     EventType = "typing"
	EventReaction   EventType = "reaction"
)

// NewMessageEvent announces a freshly persisted message.
type NewMessageEvent struct {
	Message WireMessage `json:"message"`
}

// TypingEvent announces that a user started or refreshed typing.
type TypingEvent struct {
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
}

// ReactionEvent announces a reaction toggle outcome.
type ReactionEvent struct {
	MessageID string       `json:"message_id"`
	UserID    int64        `json:"user_id"`
	Type      ReactionType `json:"reaction_type"`
	Action    string       `json:"action"` // "added" or "removed"
}

// WireMessage is the JSON shape of a message inside envelopes and API
// responses.
type WireMessage struct {
	ID          string         `json:"id"`
	ChannelID   string         `json:"channel_id"`
	AuthorID    int64          `json:"author_id"`
	AuthorName  string         `json:"author_name,omitempty"`
	Content     string         `json:"content"`
	GifURL      string         `json:"gif_url,omitempty"`
	ReplyToID   string         `json:"reply_to_id,omitempty"`
	ReplyTo     *WireReplyTo   `json:"reply_to,omitempty"`
	IsEdited    bool           `json:"is_edited,omitempty"`
	IsDeleted   bool           `json:"is_deleted,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ClientToken string         `json:"client_token,omitempty"`
	Reactions   []WireReaction `json:"reactions,omitempty"`
}

// WireReplyTo is the reply snapshot on the wire.
type WireReplyTo struct {
	ID         string `json:"id"`
	AuthorName string `json:"author_name"`
	Excerpt    string `json:"excerpt"`
}

// WireReaction is the JSON shape of a reaction.
type WireReaction struct {
	ID        string       `json:"id"`
	MessageID string       `json:"message_id"`
	UserID    int64        `json:"user_id"`
	Type      ReactionType `json:"reaction_type"`
}

// Envelope is the event frame held in the buffer and pushed to clients.
// Exactly one payload pointer is non-nil, selected by Type; unknown types
// decode to an envelope with all payloads nil and are no-ops downstream.
type Envelope struct {
	Type      EventType
	ChannelID string
	Timestamp time.Time
	Sequence  int64

	NewMessage *NewMessageEvent
	Typing     *TypingEvent
	Reaction   *ReactionEvent
}

type wireEnvelope struct {
	Type      EventType       `json:"type"`
	ChannelID string          `json:"channel_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON encodes the envelope with its single active payload.
func (e Envelope) MarshalJSON() ([]byte, error) {
	var payload any
	switch {
	case e.NewMessage != nil:
		payload = e.NewMessage
	case e.Typing != nil:
		payload = e.Typing
	case e.Reaction != nil:
		payload = e.Reaction
	}

	w := wireEnvelope{
		Type:      e.Type,
		ChannelID: e.ChannelID,
		Timestamp: e.Timestamp,
		Sequence:  e.Sequence,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		w.Payload = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the payload according to the declared type.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*e = Envelope{
		Type:      w.Type,
		ChannelID: w.ChannelID,
		Timestamp: w.Timestamp,
		Sequence:  w.Sequence,
	}
	if len(w.Payload) == 0 {
		return nil
	}

	switch w.Type {
	case EventNewMessage:
		var p NewMessageEvent
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return err
		}
		e.NewMessage = &p
	case EventTyping:
		var p TypingEvent
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return err
		}
		e.Typing = &p
	case EventReaction:
		var p ReactionEvent
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return err
		}
		e.Reaction = &p
	}
	// Unknown types keep their raw payload dropped; consumers treat the
	// envelope as a no-op.
	return nil
}

// ToWire converts a domain message to its wire shape.
func ToWire(m *Message, reactions []Reaction) WireMessage {
	w := WireMessage{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		AuthorID:    m.AuthorID,
		AuthorName:  m.AuthorName,
		Content:     m.Content,
		GifURL:      m.GifURL,
		ReplyToID:   m.ReplyToID,
		IsEdited:    m.IsEdited,
		IsDeleted:   m.IsDeleted,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		ClientToken: m.ClientToken,
	}
	if m.ReplyTo != nil {
		w.ReplyTo = &WireReplyTo{
			ID:         m.ReplyTo.ID,
			AuthorName: m.ReplyTo.AuthorName,
			Excerpt:    m.ReplyTo.Excerpt,
		}
	}
	for _, r := range reactions {
		w.Reactions = append(w.Reactions, WireReaction{
			ID:        r.ID,
			MessageID: r.MessageID,
			UserID:    r.UserID,
			Type:      r.Type,
		})
	}
	return w
}

// FromWire converts a wire message back to the domain model plus reactions.
func FromWire(w WireMessage) (*Message, []Reaction) {
	m := &Message{
		ID:          w.ID,
		ChannelID:   w.ChannelID,
		AuthorID:    w.AuthorID,
		AuthorName:  w.AuthorName,
		Content:     w.Content,
		GifURL:      w.GifURL,
		ReplyToID:   w.ReplyToID,
		IsEdited:    w.IsEdited,
		IsDeleted:   w.IsDeleted,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
		ClientToken: w.ClientToken,
	}
	if w.ReplyTo != nil {
		m.ReplyTo = &ReplySnapshot{
			ID:         w.ReplyTo.ID,
			AuthorName: w.ReplyTo.AuthorName,
			Excerpt:    w.ReplyTo.Excerpt,
		}
	}
	var reactions []Reaction
	for _, r := range w.Reactions {
		reactions = append(reactions, Reaction{
			ID:        r.ID,
			MessageID: r.MessageID,
			UserID:    r.UserID,
			Type:      r.Type,
		})
	}
	return m, reactions
}
