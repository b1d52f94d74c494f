// Package domain holds the types and collaborator contracts shared by the
// relay core and its adapters: identities, profiles, token handling and
// backfill sources. No implementation lives here.
package domain
