// Package main is a smoke-test utility that posts a signed LINE webhook
// delivery to a running groupguard server and prints the response. It signs
// the body with LINE_CHANNEL_SECRET exactly as the platform does, which makes
// it handy for checking a deployment or reproducing a mass join locally.
//
//	webhook-send -url http://localhost:5000/webhook -group C123 -joins 6
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	json "github.com/goccy/go-json"

	"github.com/groupguard/groupguard/internal/line"
)

type source struct {
	Type    string `json:"type"`
	GroupID string `json:"groupId"`
	UserID  string `json:"userId,omitempty"`
}

type member struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type event struct {
	Type           string `json:"type"`
	WebhookEventID string `json:"webhookEventId"`
	Timestamp      int64  `json:"timestamp"`
	ReplyToken     string `json:"replyToken,omitempty"`
	Source         source `json:"source"`
	Joined         *struct {
		Members []member `json:"members"`
	} `json:"joined,omitempty"`
}

func main() {
	url := flag.String("url", "http://localhost:5000/webhook", "webhook endpoint")
	groupID := flag.String("group", "Csmoketest", "group id to report events for")
	joins := flag.Int("joins", 0, "number of members in a single memberJoined event (0 sends a bot join only)")
	flag.Parse()

	secret := os.Getenv("LINE_CHANNEL_SECRET")
	if secret == "" {
		log.Fatal("LINE_CHANNEL_SECRET must be set")
	}

	now := time.Now().UnixMilli()
	events := []event{{
		Type:           "join",
		WebhookEventID: fmt.Sprintf("smoke-join-%d", now),
		Timestamp:      now,
		Source:         source{Type: "group", GroupID: *groupID},
	}}
	if *joins > 0 {
		e := event{
			Type:           "memberJoined",
			WebhookEventID: fmt.Sprintf("smoke-members-%d", now),
			Timestamp:      now,
			Source:         source{Type: "group", GroupID: *groupID},
		}
		e.Joined = &struct {
			Members []member `json:"members"`
		}{}
		for i := range *joins {
			e.Joined.Members = append(e.Joined.Members, member{Type: "user", UserID: fmt.Sprintf("Usmoke%03d", i)})
		}
		events = append(events, e)
	}

	body, err := json.Marshal(map[string]interface{}{"destination": "Usmoke", "events": events})
	if err != nil {
		log.Fatalf("encode delivery: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, *url, bytes.NewReader(body))
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(line.SignatureHeader, line.Sign(secret, body))

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		log.Fatalf("post webhook: %v", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("read response: %v", err)
	}

	fmt.Printf("Status: %d\n", resp.StatusCode)
	fmt.Printf("Response:\n%s\n", string(out))
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
