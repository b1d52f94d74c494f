package app

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/pscheid92/chatrelay/internal/irc"
)

// BackfillService turns a channel's recent raw history into parsed
// messages a consumer view can merge.
type BackfillService struct {
	source domain.BackfillSource
}

func NewBackfillService(source domain.BackfillSource) *BackfillService {
	return &BackfillService{source: source}
}

// Recent returns the channel's chat and moderation history, oldest first.
// A failing source yields an empty batch; backfill is best effort.
func (s *BackfillService) Recent(ctx context.Context, channel string) []*irc.Message {
	if s == nil || s.source == nil {
		return nil
	}
	channel = irc.NormalizeChannel(channel)
	if channel == "" {
		return nil
	}

	lines, err := s.source.Fetch(ctx, channel)
	if err != nil {
		slog.WarnContext(ctx, "Backfill fetch failed", "channel", channel, "error", err)
		return nil
	}

	out := make([]*irc.Message, 0, len(lines))
	for _, line := range lines {
		msg := irc.Parse(line)
		if msg == nil || !backfilled(msg.Command) {
			continue
		}
		if msg.Channel != "" && !strings.EqualFold(msg.Channel, channel) {
			continue
		}
		out = append(out, msg)
	}
	slog.DebugContext(ctx, "Backfill loaded", "channel", channel, "lines", len(lines), "messages", len(out))
	return out
}

func backfilled(command string) bool {
	switch command {
	case irc.CmdPrivmsg, irc.CmdClearChat, irc.CmdClearMsg:
		return true
	}
	return false
}
