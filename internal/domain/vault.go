package domain

import "context"

// Vault stores session-key material keyed by the opaque vault key id that
// session_keys rows reference. Execution never sees raw private keys; it
// only verifies the material exists before handing the id to the signer.
type Vault interface {
	// GetKey returns the stored material for the id, or ErrNotFound.
	GetKey(ctx context.Context, keyID string) ([]byte, error)

	// PutKey stores material under the id, overwriting any previous value.
	PutKey(ctx context.Context, keyID string, material []byte) error

	// DeleteKey removes the material. Deleting an absent id is not an error.
	DeleteKey(ctx context.Context, keyID string) error

	// Ping verifies the backend is reachable and unsealed.
	Ping(ctx context.Context) error
}
