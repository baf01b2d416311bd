package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/groupguard/groupguard/internal/db/models"
	"github.com/groupguard/groupguard/internal/line"
	"github.com/groupguard/groupguard/internal/moderation"
)

const (
	welcomeMessage = `Thanks for adding the anti-takeover bot!

This group is now protected:
• Abnormal mass joins are detected
• Blacklisted accounts are flagged on arrival
• Admins are alerted about suspicious activity

Type /help for the command list
Type /status for the group status`

	followMessage = `Welcome to the anti-takeover bot!

Invite me to the LINE groups you want to protect and I will:
• Watch for abnormal mass joins
• Flag blacklisted accounts
• Alert admins about suspicious activity

Type /myid to see your user ID.`

	helpMessage = `Anti-takeover bot commands:
/help - show this help
/status - show the group status
/blacklist - list blacklisted users
/myid - show your user ID

Admin commands:
/threshold <n> - set the mass-join threshold
/block <@user> [reason] - blacklist a user
/unblock <@user> - remove a user from the blacklist
/addadmin <@user> - add a bot admin
/removeadmin <@user> - remove a bot admin
/warn <@user> [reason] - warn a user`

	adminOnlyReply = "This command is restricted to group admins."
)

// command is one parsed chat command
type command struct {
	name   string
	args   []string
	sender string
	target string
	rest   string
}

type commandHandler struct {
	adminOnly bool
	run       func(d *Dispatcher, ctx context.Context, group *models.Group, cmd *command) (string, error)
}

var commands = map[string]commandHandler{
	"/help":        {run: (*Dispatcher).cmdHelp},
	"/status":      {run: (*Dispatcher).cmdStatus},
	"/blacklist":   {run: (*Dispatcher).cmdBlacklist},
	"/threshold":   {adminOnly: true, run: (*Dispatcher).cmdThreshold},
	"/block":       {adminOnly: true, run: (*Dispatcher).cmdBlock},
	"/unblock":     {adminOnly: true, run: (*Dispatcher).cmdUnblock},
	"/addadmin":    {adminOnly: true, run: (*Dispatcher).cmdAddAdmin},
	"/removeadmin": {adminOnly: true, run: (*Dispatcher).cmdRemoveAdmin},
	"/warn":        {adminOnly: true, run: (*Dispatcher).cmdWarn},
}

// parseCommand splits text into a command. Targets come from the first
// mention when the message has one, otherwise from the first argument.
func parseCommand(msg *line.Message, sender, text string) *command {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	cmd := &command{
		name:   strings.ToLower(fields[0]),
		args:   fields[1:],
		sender: sender,
	}
	if msg != nil && len(msg.Mentions) > 0 {
		mn := msg.Mentions[0]
		cmd.target = mn.UserID
		cmd.rest = msg.TextAfter(mn)
		return cmd
	}
	if len(cmd.args) > 0 {
		cmd.target = cmd.args[0]
		cmd.rest = strings.Join(cmd.args[1:], " ")
	}
	return cmd
}

func (d *Dispatcher) handleCommand(ctx context.Context, e *line.Event, text string) error {
	cmd := parseCommand(e.Message, e.Source.UserID, text)
	if cmd == nil {
		return nil
	}
	if cmd.name == "/myid" {
		d.reply(ctx, e.ReplyToken, myIDReply(cmd.sender))
		return nil
	}

	h, ok := commands[cmd.name]
	if !ok {
		slog.Debug("ignoring unknown command", "group_id", e.Source.GroupID, "command", cmd.name)
		return nil
	}

	group, err := d.svc.GetGroup(ctx, e.Source.GroupID)
	if errors.Is(err, moderation.ErrGroupNotFound) {
		slog.Debug("command in unregistered group", "group_id", e.Source.GroupID, "command", cmd.name)
		return nil
	}
	if err != nil {
		return err
	}

	if h.adminOnly && !d.svc.IsAdmin(group, cmd.sender) {
		d.reply(ctx, e.ReplyToken, adminOnlyReply)
		return nil
	}

	reply, err := h.run(d, ctx, group, cmd)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.name, err)
	}
	d.reply(ctx, e.ReplyToken, reply)
	return nil
}

func (d *Dispatcher) cmdHelp(context.Context, *models.Group, *command) (string, error) {
	return helpMessage, nil
}

func (d *Dispatcher) cmdStatus(ctx context.Context, group *models.Group, _ *command) (string, error) {
	stats, err := d.svc.GetGroupStatistics(ctx, group.GroupID)
	if err != nil {
		return "", err
	}
	name := "Unknown"
	if stats.GroupName != nil && *stats.GroupName != "" {
		name = *stats.GroupName
	}
	return fmt.Sprintf("Group status\nName: %s\nMembers: %d\nMass-join threshold: %d\nBlacklisted users: %d\nAdmins: %d",
		name, stats.MemberCount, stats.Threshold, stats.BlacklistCount, stats.AdminCount), nil
}

func (d *Dispatcher) cmdBlacklist(ctx context.Context, group *models.Group, _ *command) (string, error) {
	entries, err := d.svc.ListBlacklist(ctx, group.GroupID)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No blacklisted users", nil
	}
	var b strings.Builder
	b.WriteString("Blacklisted users:")
	for _, e := range entries {
		fmt.Fprintf(&b, "\n• %s (%s)", e.UserID, e.ReasonOr("no reason"))
	}
	return b.String(), nil
}

func (d *Dispatcher) cmdThreshold(ctx context.Context, group *models.Group, cmd *command) (string, error) {
	if len(cmd.args) == 0 {
		return "Usage: /threshold <number>", nil
	}
	n, err := strconv.Atoi(cmd.args[0])
	if err != nil {
		return "Please enter a valid number, e.g. /threshold 5", nil
	}
	if n <= 0 {
		return "Threshold must be greater than 0", nil
	}
	if n > moderation.MaxThreshold {
		return fmt.Sprintf("Threshold must be at most %d", moderation.MaxThreshold), nil
	}
	if _, err := d.svc.UpdateSettings(ctx, group.GroupID, cmd.sender, moderation.SettingsUpdate{Threshold: &n}); err != nil {
		return "", err
	}
	return fmt.Sprintf("Mass-join threshold set to %d", n), nil
}

func (d *Dispatcher) cmdBlock(ctx context.Context, group *models.Group, cmd *command) (string, error) {
	if cmd.target == "" {
		return "Usage: /block <@user> [reason]", nil
	}
	created, err := d.svc.BlockUser(ctx, group.GroupID, cmd.target, cmd.rest)
	if err != nil {
		return "", err
	}
	if !created {
		return fmt.Sprintf("%s is already blacklisted", cmd.target), nil
	}
	return fmt.Sprintf("Blacklisted %s", cmd.target), nil
}

func (d *Dispatcher) cmdUnblock(ctx context.Context, group *models.Group, cmd *command) (string, error) {
	if cmd.target == "" {
		return "Usage: /unblock <@user>", nil
	}
	removed, err := d.svc.UnblockUser(ctx, group.GroupID, cmd.target)
	if err != nil {
		return "", err
	}
	if !removed {
		return fmt.Sprintf("%s is not blacklisted", cmd.target), nil
	}
	return fmt.Sprintf("Removed %s from the blacklist", cmd.target), nil
}

func (d *Dispatcher) cmdAddAdmin(ctx context.Context, group *models.Group, cmd *command) (string, error) {
	if cmd.target == "" {
		return "Usage: /addadmin <@user>", nil
	}
	changed, err := d.svc.SetAdmin(ctx, group.GroupID, cmd.sender, cmd.target, true)
	if err != nil {
		return "", err
	}
	if !changed {
		return fmt.Sprintf("%s is already an admin", cmd.target), nil
	}
	return fmt.Sprintf("Added %s as an admin", cmd.target), nil
}

func (d *Dispatcher) cmdRemoveAdmin(ctx context.Context, group *models.Group, cmd *command) (string, error) {
	if cmd.target == "" {
		return "Usage: /removeadmin <@user>", nil
	}
	changed, err := d.svc.SetAdmin(ctx, group.GroupID, cmd.sender, cmd.target, false)
	if err != nil {
		return "", err
	}
	if !changed {
		return fmt.Sprintf("%s is not an admin", cmd.target), nil
	}
	return fmt.Sprintf("Removed %s from the admins", cmd.target), nil
}

func (d *Dispatcher) cmdWarn(ctx context.Context, group *models.Group, cmd *command) (string, error) {
	if cmd.target == "" {
		return "Usage: /warn <@user> [reason]", nil
	}
	if err := d.svc.WarnUser(ctx, group.GroupID, cmd.target, cmd.sender, cmd.rest); err != nil {
		return "", err
	}
	if cmd.rest == "" {
		return fmt.Sprintf("Warning issued to %s", cmd.target), nil
	}
	return fmt.Sprintf("Warning issued to %s\nReason: %s", cmd.target, cmd.rest), nil
}

func myIDReply(userID string) string {
	return "Your user ID: " + userID
}
