package irc

import "strings"

// Parse structures a single protocol line. It returns nil for lines that
// cannot be structured: empty input, a tag block or prefix with nothing
// after it, or a missing command.
//
// Trailing text is everything after the first " :" following the command.
// When no such separator exists but tokens remain after the command and
// channel, those tokens joined by a space become the trailing text. The
// recent-messages feed omits the colon on single-word messages and relies
// on this.
func Parse(raw string) *Message {
	line := strings.TrimRight(raw, "\r\n")
	if line == "" {
		return nil
	}

	msg := &Message{Raw: line}
	rest := line

	if rest[0] == '@' {
		tagBlock, after, ok := strings.Cut(rest[1:], " ")
		if !ok {
			return nil
		}
		msg.Tags = parseTags(tagBlock)
		rest = after
	}

	if strings.HasPrefix(rest, ":") {
		prefix, after, ok := strings.Cut(rest[1:], " ")
		if !ok {
			return nil
		}
		msg.Prefix = prefix
		msg.Username, _, _ = strings.Cut(prefix, "!")
		rest = after
	}

	parts := strings.Split(rest, " ")
	msg.Command = parts[0]
	if msg.Command == "" {
		return nil
	}

	paramStart := 1
	if len(parts) > 1 && strings.HasPrefix(parts[1], "#") {
		msg.Channel = parts[1][1:]
		paramStart = 2
	}

	if i := strings.Index(rest[len(msg.Command):], " :"); i >= 0 {
		msg.Trailing = rest[len(msg.Command)+i+2:]
	} else if len(parts) > paramStart {
		msg.Trailing = strings.Join(parts[paramStart:], " ")
	}

	return msg
}

func parseTags(block string) Tags {
	pairs := strings.Split(block, ";")
	tags := make(Tags, 0, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			tags = append(tags, Tag{Key: pair, Bare: true})
			continue
		}
		tags = append(tags, Tag{Key: key, Value: UnescapeTagValue(value)})
	}
	return tags
}

// IsPing reports whether line is an untagged, unprefixed PING that needs an
// immediate PONG.
func IsPing(line string) bool {
	return line == "PING" || strings.HasPrefix(line, "PING ")
}

// SplitLines splits a transport payload into its non-empty protocol lines.
func SplitLines(payload string) []string {
	raw := strings.Split(payload, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSuffix(l, "\r")
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
