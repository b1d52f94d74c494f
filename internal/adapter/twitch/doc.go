// Package twitch adapts the Twitch Helix and OAuth APIs to the domain's
// token and profile contracts.
package twitch
