package port

import "context"

// CredentialVerifier checks a login identifier and password against the user
// store. Identity management itself lives outside this service; only the
// verification boundary is consumed here. ok is false for unknown identifiers
// and wrong passwords alike so callers cannot distinguish the two.
type CredentialVerifier interface {
	Verify(ctx context.Context, identifier, password string) (userID string, ok bool, err error)
}
