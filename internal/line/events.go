package line

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	json "github.com/goccy/go-json"
)

// EventKind identifies a webhook event variant
type EventKind string

const (
	KindMessage      EventKind = "message"
	KindJoin         EventKind = "join"
	KindLeave        EventKind = "leave"
	KindMemberJoined EventKind = "memberJoined"
	KindMemberLeft   EventKind = "memberLeft"
	KindPostback     EventKind = "postback"
	KindFollow       EventKind = "follow"
	KindUnfollow     EventKind = "unfollow"
	KindUnknown      EventKind = "unknown"
)

// SourceKind identifies where an event originated
type SourceKind string

const (
	SourceUser  SourceKind = "user"
	SourceGroup SourceKind = "group"
	SourceRoom  SourceKind = "room"
)

// Source is the origin of an event
type Source struct {
	Kind    SourceKind
	UserID  string
	GroupID string
	RoomID  string
}

// InGroup reports whether the event happened in a group chat
func (s Source) InGroup() bool {
	return s.Kind == SourceGroup && s.GroupID != ""
}

// Mention is a user mentioned in a text message. Index and Length locate the
// mention in the text in UTF-16 code units.
type Mention struct {
	UserID string
	Index  int
	Length int
}

// Message is the payload of a message event. Text and Mentions are only set
// for text messages.
type Message struct {
	ID       string
	Type     string
	Text     string
	Mentions []Mention
}

// TextAfter returns the trimmed text following mention mn
func (m *Message) TextAfter(mn Mention) string {
	units := utf16.Encode([]rune(m.Text))
	end := mn.Index + mn.Length
	if end < 0 || end > len(units) {
		return ""
	}
	return strings.TrimSpace(string(utf16.Decode(units[end:])))
}

// IsText reports whether the message is a text message
func (m *Message) IsText() bool {
	return m != nil && m.Type == "text"
}

// Event is one decoded webhook event. Which payload field is populated
// depends on Kind: Message for KindMessage, Members for KindMemberJoined and
// KindMemberLeft, PostbackData for KindPostback.
type Event struct {
	Kind           EventKind
	Type           string
	WebhookEventID string
	Redelivery     bool
	Timestamp      time.Time
	ReplyToken     string
	Source         Source

	Message      *Message
	Members      []string
	PostbackData string
}

// Webhook is a decoded delivery
type Webhook struct {
	Destination string
	Events      []*Event
}

type wireSource struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId"`
	RoomID  string `json:"roomId"`
}

type wireMembers struct {
	Members []struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	} `json:"members"`
}

type wireEvent struct {
	Type            string     `json:"type"`
	Mode            string     `json:"mode"`
	Timestamp       int64      `json:"timestamp"`
	Source          wireSource `json:"source"`
	WebhookEventID  string     `json:"webhookEventId"`
	ReplyToken      string     `json:"replyToken"`
	DeliveryContext struct {
		IsRedelivery bool `json:"isRedelivery"`
	} `json:"deliveryContext"`
	Message *struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Text    string `json:"text"`
		Mention *struct {
			Mentionees []struct {
				Index  int    `json:"index"`
				Length int    `json:"length"`
				Type   string `json:"type"`
				UserID string `json:"userId"`
			} `json:"mentionees"`
		} `json:"mention"`
	} `json:"message"`
	Joined   *wireMembers `json:"joined"`
	Left     *wireMembers `json:"left"`
	Postback *struct {
		Data string `json:"data"`
	} `json:"postback"`
}

type wireWebhook struct {
	Destination string      `json:"destination"`
	Events      []wireEvent `json:"events"`
}

// ParseWebhook decodes a webhook body. Unknown event types are kept with
// KindUnknown so callers can log them.
func ParseWebhook(body []byte) (*Webhook, error) {
	var w wireWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decode webhook body: %w", err)
	}

	out := &Webhook{Destination: w.Destination, Events: make([]*Event, 0, len(w.Events))}
	for i := range w.Events {
		out.Events = append(out.Events, convertEvent(&w.Events[i]))
	}
	return out, nil
}

func convertEvent(we *wireEvent) *Event {
	e := &Event{
		Kind:           kindOf(we.Type),
		Type:           we.Type,
		WebhookEventID: we.WebhookEventID,
		Redelivery:     we.DeliveryContext.IsRedelivery,
		ReplyToken:     we.ReplyToken,
		Source: Source{
			Kind:    SourceKind(we.Source.Type),
			UserID:  we.Source.UserID,
			GroupID: we.Source.GroupID,
			RoomID:  we.Source.RoomID,
		},
	}
	if we.Timestamp > 0 {
		e.Timestamp = time.UnixMilli(we.Timestamp).UTC()
	}

	switch e.Kind {
	case KindMessage:
		if we.Message != nil {
			m := &Message{ID: we.Message.ID, Type: we.Message.Type, Text: we.Message.Text}
			if we.Message.Mention != nil {
				for _, mn := range we.Message.Mention.Mentionees {
					if mn.UserID != "" {
						m.Mentions = append(m.Mentions, Mention{UserID: mn.UserID, Index: mn.Index, Length: mn.Length})
					}
				}
			}
			e.Message = m
		}
	case KindMemberJoined:
		e.Members = memberIDs(we.Joined)
	case KindMemberLeft:
		e.Members = memberIDs(we.Left)
	case KindPostback:
		if we.Postback != nil {
			e.PostbackData = we.Postback.Data
		}
	}
	return e
}

func kindOf(t string) EventKind {
	switch k := EventKind(t); k {
	case KindMessage, KindJoin, KindLeave, KindMemberJoined, KindMemberLeft,
		KindPostback, KindFollow, KindUnfollow:
		return k
	}
	return KindUnknown
}

func memberIDs(m *wireMembers) []string {
	if m == nil {
		return nil
	}
	ids := make([]string, 0, len(m.Members))
	for _, mem := range m.Members {
		if mem.UserID != "" {
			ids = append(ids, mem.UserID)
		}
	}
	return ids
}
