// Package irc parses and builds the tag-annotated IRC lines spoken by the
// Twitch chat gateway over WebSocket.
//
// Parsing is pure and never panics: malformed input yields a nil *Message.
// Tag values are unescaped in a single left-to-right pass, so a literal
// backslash is never re-interpreted as the start of another escape.
package irc
