package app

import (
	"slices"

	"github.com/pscheid92/chatrelay/internal/domain"
)

// accountBook is the in-memory list of known accounts, in the order they
// were first added. At most one of them is active.
type accountBook struct {
	accounts []*domain.Identity
	activeID string
}

func (b *accountBook) upsert(identity *domain.Identity) {
	i := b.index(identity.UserID)
	if i < 0 {
		b.accounts = append(b.accounts, identity.Clone())
		return
	}
	b.accounts[i] = identity.Clone()
}

func (b *accountBook) get(userID string) *domain.Identity {
	i := b.index(userID)
	if i < 0 {
		return nil
	}
	return b.accounts[i].Clone()
}

// remove deletes an account and reports whether it was the active one.
func (b *accountBook) remove(userID string) (found, wasActive bool) {
	i := b.index(userID)
	if i < 0 {
		return false, false
	}
	b.accounts = slices.Delete(b.accounts, i, i+1)
	if b.activeID == userID {
		b.activeID = ""
		return true, true
	}
	return true, false
}

func (b *accountBook) active() *domain.Identity {
	if b.activeID == "" {
		return nil
	}
	return b.get(b.activeID)
}

func (b *accountBook) list() []*domain.Identity {
	out := make([]*domain.Identity, 0, len(b.accounts))
	for _, a := range b.accounts {
		out = append(out, a.Clone())
	}
	return out
}

func (b *accountBook) index(userID string) int {
	return slices.IndexFunc(b.accounts, func(a *domain.Identity) bool {
		return a.UserID == userID
	})
}
