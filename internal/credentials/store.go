package credentials

import "context"

// Store is the persistence port for the token pair. Implementations must
// make Save atomic with respect to concurrent Load calls: a reader never
// observes a partially written pair.
type Store interface {
	// Load returns the stored credentials, or (nil, nil) when the user has
	// never authenticated.
	Load(ctx context.Context) (*Credentials, error)

	// Save replaces the stored credentials.
	Save(ctx context.Context, creds *Credentials) error
}
