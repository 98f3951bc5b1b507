// SPDX-License-Identifier: Apache-2.0

package trigger

import "context"

// Ledger remembers dedup keys that already started a run. It is a fast path
// in front of the run store's unique (event_id, workflow_id) index and may
// forget keys after its retention window.
type Ledger interface {
	// Claim returns false when key was claimed before.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a failed start can be retried.
	Release(ctx context.Context, key string) error
}
