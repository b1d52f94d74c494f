package irc

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Outbound lines understood by the chat gateway.
const (
	CapabilityRequest = "CAP REQ :twitch.tv/tags twitch.tv/commands"
	Pong              = "PONG :tmi.twitch.tv"
	Ping              = "PING :tmi.twitch.tv"

	// AnonymousPassword is accepted by the gateway for read-only guest logins.
	AnonymousPassword = "PASS oauth:99999"

	DefaultGuestPrefix = "justinfan"
)

// Commands relayed to consumers.
const (
	CmdPrivmsg    = "PRIVMSG"
	CmdClearChat  = "CLEARCHAT"
	CmdClearMsg   = "CLEARMSG"
	CmdUserNotice = "USERNOTICE"
	CmdNotice     = "NOTICE"

	CmdWelcome   = "001"
	CmdPong      = "PONG"
	CmdReconnect = "RECONNECT"
)

// Relayed reports whether messages with this command are delivered to
// consumers.
func Relayed(command string) bool {
	switch command {
	case CmdPrivmsg, CmdClearChat, CmdClearMsg, CmdUserNotice, CmdNotice:
		return true
	}
	return false
}

// Pass builds the authentication line for an access token. A leading
// "oauth:" on the token is tolerated.
func Pass(token string) string {
	return "PASS oauth:" + strings.TrimPrefix(token, "oauth:")
}

func Nick(login string) string {
	return "NICK " + login
}

func Join(channel string) string {
	return "JOIN #" + channel
}

func Part(channel string) string {
	return "PART #" + channel
}

// Privmsg builds an outbound chat line. Line breaks in text are replaced by
// spaces so the text cannot inject a second command.
func Privmsg(channel, text string) string {
	text = strings.NewReplacer("\r", " ", "\n", " ").Replace(text)
	return fmt.Sprintf("PRIVMSG #%s :%s", channel, text)
}

// GuestNick returns prefix followed by a random 4 or 5 digit suffix.
func GuestNick(prefix string) string {
	if prefix == "" {
		prefix = DefaultGuestPrefix
	}
	return fmt.Sprintf("%s%d", prefix, 1000+rand.IntN(99000))
}

// NormalizeChannel lower-cases a channel name and strips the leading '#'.
func NormalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
}
