package line

import (
	"testing"
	"time"
)

const sampleWebhook = `{
  "destination": "Ubot",
  "events": [
    {
      "type": "message",
      "mode": "active",
      "timestamp": 1700000000000,
      "webhookEventId": "01H0000000000000000000000A",
      "deliveryContext": {"isRedelivery": false},
      "replyToken": "rt-1",
      "source": {"type": "group", "groupId": "C1", "userId": "U1"},
      "message": {
        "id": "m1", "type": "text", "text": "/block @Mallory spam",
        "mention": {"mentionees": [{"index": 7, "length": 8, "type": "user", "userId": "U666"}]}
      }
    },
    {
      "type": "memberJoined",
      "timestamp": 1700000001000,
      "webhookEventId": "01H0000000000000000000000B",
      "deliveryContext": {"isRedelivery": true},
      "replyToken": "rt-2",
      "source": {"type": "group", "groupId": "C1"},
      "joined": {"members": [{"type": "user", "userId": "U2"}, {"type": "user", "userId": "U3"}]}
    },
    {
      "type": "memberLeft",
      "timestamp": 1700000002000,
      "source": {"type": "group", "groupId": "C1"},
      "left": {"members": [{"type": "user", "userId": "U2"}]}
    },
    {
      "type": "postback",
      "source": {"type": "user", "userId": "U1"},
      "postback": {"data": "action=ack"}
    },
    {"type": "follow", "replyToken": "rt-3", "source": {"type": "user", "userId": "U9"}},
    {"type": "videoPlayComplete", "source": {"type": "user", "userId": "U9"}}
  ]
}`

func TestParseWebhook(t *testing.T) {
	w, err := ParseWebhook([]byte(sampleWebhook))
	if err != nil {
		t.Fatalf("ParseWebhook() error: %v", err)
	}
	if w.Destination != "Ubot" {
		t.Errorf("Destination = %q, want Ubot", w.Destination)
	}
	if len(w.Events) != 6 {
		t.Fatalf("len(Events) = %d, want 6", len(w.Events))
	}

	msg := w.Events[0]
	if msg.Kind != KindMessage || !msg.Source.InGroup() || msg.Source.UserID != "U1" {
		t.Errorf("message event = %+v", msg)
	}
	if !msg.Message.IsText() || msg.Message.Text != "/block @Mallory spam" {
		t.Errorf("message = %+v", msg.Message)
	}
	if len(msg.Message.Mentions) != 1 || msg.Message.Mentions[0].UserID != "U666" {
		t.Fatalf("Mentions = %v, want [U666]", msg.Message.Mentions)
	}
	if rest := msg.Message.TextAfter(msg.Message.Mentions[0]); rest != "spam" {
		t.Errorf("TextAfter() = %q, want spam", rest)
	}
	if !msg.Timestamp.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("Timestamp = %v", msg.Timestamp)
	}

	joined := w.Events[1]
	if joined.Kind != KindMemberJoined || !joined.Redelivery {
		t.Errorf("joined event = %+v", joined)
	}
	if len(joined.Members) != 2 || joined.Members[1] != "U3" {
		t.Errorf("joined Members = %v", joined.Members)
	}

	if left := w.Events[2]; left.Kind != KindMemberLeft || len(left.Members) != 1 {
		t.Errorf("left event = %+v", left)
	}

	pb := w.Events[3]
	if pb.Kind != KindPostback || pb.PostbackData != "action=ack" || pb.Source.InGroup() {
		t.Errorf("postback event = %+v", pb)
	}

	if w.Events[4].Kind != KindFollow || w.Events[4].ReplyToken != "rt-3" {
		t.Errorf("follow event = %+v", w.Events[4])
	}
	if u := w.Events[5]; u.Kind != KindUnknown || u.Type != "videoPlayComplete" {
		t.Errorf("unknown event = %+v", u)
	}
}

func TestParseWebhook_Malformed(t *testing.T) {
	for _, body := range []string{"", "{", `{"events": "nope"}`} {
		if _, err := ParseWebhook([]byte(body)); err == nil {
			t.Errorf("ParseWebhook(%q) expected error", body)
		}
	}
}

func TestSource_InGroup(t *testing.T) {
	tests := []struct {
		src  Source
		want bool
	}{
		{Source{Kind: SourceGroup, GroupID: "C1"}, true},
		{Source{Kind: SourceGroup}, false},
		{Source{Kind: SourceRoom, RoomID: "R1"}, false},
		{Source{Kind: SourceUser, UserID: "U1"}, false},
	}
	for _, tt := range tests {
		if got := tt.src.InGroup(); got != tt.want {
			t.Errorf("%+v.InGroup() = %v, want %v", tt.src, got, tt.want)
		}
	}
}

func TestMessage_TextAfter_UTF16(t *testing.T) {
	// "😀" is two UTF-16 code units, so the mention starts at index 9.
	m := &Message{Type: "text", Text: "/warn 😀 @小明 too many links"}
	got := m.TextAfter(Mention{UserID: "U1", Index: 9, Length: 3})
	if got != "too many links" {
		t.Errorf("TextAfter() = %q, want %q", got, "too many links")
	}
	if got := m.TextAfter(Mention{Index: 100, Length: 1}); got != "" {
		t.Errorf("out of range TextAfter() = %q, want empty", got)
	}
}
