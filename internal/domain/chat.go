package domain

import "context"

// BackfillSource returns recent raw protocol lines for a channel, oldest
// first.
type BackfillSource interface {
	Fetch(ctx context.Context, channel string) ([]string, error)
}

// ProfileLookup resolves public profile metadata by login name on behalf of
// the holder of accessToken. It returns (nil, nil) when the login does not
// exist and ErrInvalidToken when the token is rejected.
type ProfileLookup interface {
	LookupProfile(ctx context.Context, accessToken, login string) (*Profile, error)
}
