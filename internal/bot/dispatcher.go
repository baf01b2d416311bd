// Package bot turns decoded webhook events into moderation actions and chat
// replies.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/groupguard/groupguard/internal/db/models"
	"github.com/groupguard/groupguard/internal/dedupe"
	"github.com/groupguard/groupguard/internal/line"
	"github.com/groupguard/groupguard/internal/moderation"
	"github.com/groupguard/groupguard/internal/telemetry"
)

// DefaultMessageLogLimit is the number of runes of message text kept in the audit log
const DefaultMessageLogLimit = 100

// Messenger is the subset of the LINE client the dispatcher talks to
type Messenger interface {
	ReplyText(ctx context.Context, replyToken string, texts ...string) error
	GroupSummary(ctx context.Context, groupID string) (*line.GroupSummary, error)
	GroupMemberProfile(ctx context.Context, groupID, userID string) (*line.Profile, error)
}

// Dispatcher routes webhook events to their handlers
type Dispatcher struct {
	svc          *moderation.Service
	messenger    Messenger
	dedupe       dedupe.Deduper
	messageLimit int
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithDeduper drops events whose webhookEventId was already seen
func WithDeduper(d dedupe.Deduper) Option {
	return func(disp *Dispatcher) {
		if d != nil {
			disp.dedupe = d
		}
	}
}

// WithMessageLogLimit sets how many runes of message text are recorded
func WithMessageLogLimit(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.messageLimit = n
		}
	}
}

// NewDispatcher creates a dispatcher. messenger may be nil, in which case
// replies and profile lookups are skipped.
func NewDispatcher(svc *moderation.Service, messenger Messenger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		svc:          svc,
		messenger:    messenger,
		dedupe:       dedupe.Noop{},
		messageLimit: DefaultMessageLogLimit,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch handles events in delivery order. A failing or panicking event is
// logged and counted without affecting the others.
func (d *Dispatcher) Dispatch(ctx context.Context, events []*line.Event) {
	for _, e := range events {
		if e == nil {
			continue
		}
		d.dispatchOne(ctx, e)
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, e *line.Event) {
	kind := string(e.Kind)
	if e.WebhookEventID != "" && !d.dedupe.FirstSeen(ctx, e.WebhookEventID) {
		telemetry.WebhookEventsTotal.WithLabelValues(kind, "duplicate").Inc()
		slog.Debug("skipping duplicate webhook event", "event_id", e.WebhookEventID, "event_kind", kind)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			telemetry.WebhookEventsTotal.WithLabelValues(kind, "failed").Inc()
			slog.Error("recovered panic while handling webhook event",
				"event_kind", kind, "group_id", e.Source.GroupID, "panic", r)
		}
	}()

	if err := d.HandleEvent(ctx, e); err != nil {
		telemetry.WebhookEventsTotal.WithLabelValues(kind, "failed").Inc()
		slog.Error("failed to handle webhook event",
			"event_kind", kind, "group_id", e.Source.GroupID, "user_id", e.Source.UserID, "error", err)
		return
	}
	telemetry.WebhookEventsTotal.WithLabelValues(kind, "handled").Inc()
}

// HandleEvent runs the handler for a single event
func (d *Dispatcher) HandleEvent(ctx context.Context, e *line.Event) error {
	switch e.Kind {
	case line.KindMessage:
		return d.handleMessage(ctx, e)
	case line.KindJoin:
		return d.handleJoin(ctx, e)
	case line.KindLeave:
		return d.handleLeave(ctx, e)
	case line.KindMemberJoined:
		return d.handleMemberJoined(ctx, e)
	case line.KindMemberLeft:
		return d.handleMemberLeft(ctx, e)
	case line.KindPostback:
		return d.handlePostback(ctx, e)
	case line.KindFollow:
		d.reply(ctx, e.ReplyToken, followMessage)
		return nil
	case line.KindUnfollow:
		slog.Info("bot unfollowed", "user_id", e.Source.UserID)
		return nil
	default:
		slog.Debug("ignoring unsupported webhook event", "event_type", e.Type)
		return nil
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, e *line.Event) error {
	if !e.Message.IsText() {
		return nil
	}
	text := strings.TrimSpace(e.Message.Text)

	if !e.Source.InGroup() {
		if strings.EqualFold(firstToken(text), "/myid") && e.Source.UserID != "" {
			d.reply(ctx, e.ReplyToken, myIDReply(e.Source.UserID))
		}
		return nil
	}

	groupID := e.Source.GroupID
	details := models.MessageDetails{Text: truncateRunes(text, d.messageLimit)}
	if err := d.svc.RecordEvent(ctx, groupID, e.Source.UserID, details, false); err != nil {
		return err
	}

	if !strings.HasPrefix(text, "/") {
		return nil
	}
	return d.handleCommand(ctx, e, text)
}

func (d *Dispatcher) handleJoin(ctx context.Context, e *line.Event) error {
	if !e.Source.InGroup() {
		return nil
	}
	groupID := e.Source.GroupID
	if _, _, err := d.svc.EnsureGroup(ctx, groupID, d.groupName(ctx, groupID)); err != nil {
		return err
	}

	details := models.BotJoinDetails{Timestamp: e.Timestamp}
	if err := d.svc.RecordEvent(ctx, groupID, "", details, false); err != nil {
		return err
	}
	slog.Info("bot joined group", "group_id", groupID)
	d.reply(ctx, e.ReplyToken, welcomeMessage)
	return nil
}

func (d *Dispatcher) handleLeave(ctx context.Context, e *line.Event) error {
	if !e.Source.InGroup() {
		return nil
	}
	slog.Info("bot left group", "group_id", e.Source.GroupID)
	return d.svc.RecordEvent(ctx, e.Source.GroupID, "", models.BotLeaveDetails{Timestamp: e.Timestamp}, false)
}

func (d *Dispatcher) handleMemberJoined(ctx context.Context, e *line.Event) error {
	if !e.Source.InGroup() || len(e.Members) == 0 {
		return nil
	}
	groupID := e.Source.GroupID
	group, _, err := d.svc.EnsureGroup(ctx, groupID, "")
	if err != nil {
		return err
	}

	for _, userID := range e.Members {
		entry, err := d.svc.FindBlock(ctx, groupID, userID)
		if err != nil {
			return err
		}
		if entry != nil {
			slog.Warn("blacklisted user joined group", "group_id", groupID, "user_id", userID, "global", entry.IsGlobal())
			if err := d.svc.KickMember(ctx, groupID, userID); err != nil {
				return err
			}
			if _, err := d.svc.NotifyAdmins(ctx, group, blacklistedAlert(userID, entry.ReasonOr("none"))); err != nil {
				return err
			}
			continue
		}

		if err := d.svc.AddMember(ctx, group, userID, d.displayName(ctx, groupID, userID)); err != nil {
			return err
		}
	}

	suspicious := d.svc.CheckMassJoin(ctx, groupID, len(e.Members))
	details := models.MemberJoinDetails{MemberCount: len(e.Members), MemberIDs: e.Members}
	if err := d.svc.RecordEvent(ctx, groupID, "", details, suspicious); err != nil {
		return err
	}

	if suspicious {
		if _, err := d.svc.NotifyAdmins(ctx, group, massJoinAlert(len(e.Members))); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) handleMemberLeft(ctx context.Context, e *line.Event) error {
	if !e.Source.InGroup() || len(e.Members) == 0 {
		return nil
	}
	groupID := e.Source.GroupID
	group, _, err := d.svc.EnsureGroup(ctx, groupID, "")
	if err != nil {
		return err
	}

	if _, err := d.svc.RemoveMembers(ctx, groupID, e.Members); err != nil {
		return err
	}
	details := models.MemberLeaveDetails{MemberCount: len(e.Members), MemberIDs: e.Members}
	if err := d.svc.RecordEvent(ctx, groupID, "", details, false); err != nil {
		return err
	}

	for _, userID := range e.Members {
		if !group.IsAdmin(userID) {
			continue
		}
		if _, err := d.svc.NotifyAdmins(ctx, group, adminLeftAlert(userID)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) handlePostback(ctx context.Context, e *line.Event) error {
	if !e.Source.InGroup() {
		return nil
	}
	return d.svc.RecordEvent(ctx, e.Source.GroupID, e.Source.UserID, models.PostbackDetails{Data: e.PostbackData}, false)
}

// reply sends texts on the event's reply token. Failures are logged only.
func (d *Dispatcher) reply(ctx context.Context, replyToken string, texts ...string) {
	if d.messenger == nil || replyToken == "" || len(texts) == 0 {
		return
	}
	if err := d.messenger.ReplyText(ctx, replyToken, texts...); err != nil {
		slog.Warn("failed to send reply", "error", err)
	}
}

func (d *Dispatcher) groupName(ctx context.Context, groupID string) string {
	if d.messenger == nil {
		return ""
	}
	summary, err := d.messenger.GroupSummary(ctx, groupID)
	if err != nil {
		slog.Debug("group summary lookup failed", "group_id", groupID, "error", err)
		return ""
	}
	return summary.GroupName
}

func (d *Dispatcher) displayName(ctx context.Context, groupID, userID string) string {
	if d.messenger == nil {
		return ""
	}
	profile, err := d.messenger.GroupMemberProfile(ctx, groupID, userID)
	if err != nil {
		slog.Debug("member profile lookup failed", "group_id", groupID, "user_id", userID, "error", err)
		return ""
	}
	return profile.DisplayName
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func firstToken(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func blacklistedAlert(userID, reason string) string {
	return fmt.Sprintf("Blacklisted user removed automatically: %s\nReason: %s", userID, reason)
}

func massJoinAlert(n int) string {
	return fmt.Sprintf("Mass join detected!\n%d members joined within a short time\nPlease check for takeover risk", n)
}

func adminLeftAlert(userID string) string {
	return fmt.Sprintf("An admin left the group: %s", userID)
}
