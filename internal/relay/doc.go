// Package relay keeps one upstream chat connection alive and fans its
// messages out to local consumers.
//
// The Supervisor is an actor: one goroutine owns the connection state, the
// channel registry and the consumer list. Every input (API calls, dial
// results, socket frames, timer expiries) arrives as a typed command on its
// command channel. Commands from superseded connections or timers carry a
// stale generation number and are dropped.
package relay
