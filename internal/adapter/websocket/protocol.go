package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/pscheid92/chatrelay/internal/irc"
	"github.com/pscheid92/chatrelay/internal/relay"
)

// Command types sent by consumers.
const (
	cmdWatch          = "watch"
	cmdUnwatch        = "unwatch"
	cmdSendText       = "send_text"
	cmdRequestProfile = "request_profile"
	cmdHistory        = "history"
)

// Event types sent to consumers.
const (
	evChat       = "chat"
	evIdentity   = "identity"
	evBackfill   = "backfill"
	evHistory    = "history"
	evProfile    = "profile"
	evConnection = "connection"
	evError      = "error"
)

// Error codes carried by error events.
const (
	codeMalformed        = "malformed_command"
	codeUnknownCommand   = "unknown_command"
	codeNotAuthenticated = "not_authenticated"
	codeNotReady         = "not_ready"
	codeRateLimited      = "rate_limited"
	codeInvalidChannel   = "invalid_channel"
	codeUnavailable      = "unavailable"
	codeInternal         = "internal"
)

var errMalformedCommand = errors.New("malformed command")

// command is the envelope of every consumer message. Fields unused by a
// given type are left empty.
type command struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text,omitempty"`
	Login   string `json:"login,omitempty"`
}

func decodeCommand(data []byte) (command, error) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return command{}, fmt.Errorf("%w: %w", errMalformedCommand, err)
	}
	if cmd.Type == "" {
		return command{}, fmt.Errorf("%w: missing type", errMalformedCommand)
	}
	return cmd, nil
}

type chatEvent struct {
	Type    string       `json:"type"`
	Message *irc.Message `json:"message"`
}

type identityEvent struct {
	Type     string           `json:"type"`
	Identity *domain.Identity `json:"identity"`
}

type messagesEvent struct {
	Type     string         `json:"type"`
	Channel  string         `json:"channel"`
	Messages []*irc.Message `json:"messages"`
}

type profileEvent struct {
	Type    string          `json:"type"`
	Login   string          `json:"login"`
	Profile *domain.Profile `json:"profile"`
}

type connectionEvent struct {
	Type  string      `json:"type"`
	State relay.State `json:"state"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Command string `json:"command,omitempty"`
}

// errorCode maps relay and domain failures onto the codes consumers see.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errMalformedCommand):
		return codeMalformed
	case errors.Is(err, domain.ErrNotAuthenticated):
		return codeNotAuthenticated
	case errors.Is(err, domain.ErrNotReady):
		return codeNotReady
	case errors.Is(err, domain.ErrRateLimited):
		return codeRateLimited
	case errors.Is(err, domain.ErrInvalidChannel):
		return codeInvalidChannel
	case errors.Is(err, domain.ErrStopped):
		return codeUnavailable
	default:
		return codeInternal
	}
}
