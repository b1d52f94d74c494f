// Package app holds the use cases that sit between the consumer-facing
// adapters and the relay core: account and token handling for the active
// identity, and loading channel history for backfill.
package app
