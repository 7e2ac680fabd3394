package session

import (
	"context"
	"time"

	"github.com/ggonzalez94/chatswap/internal/model"
)

// Store is the authoritative record of in-flight sessions. Every method is a
// single atomic step; races on the same session are decided by Advance.
//
// Errors carry these codes: NotFound for unknown ids, Expired for sessions
// older than the store TTL that were not yet swept, InvalidTransition for
// out-of-order operations, and Conflict when Advance's expected state no
// longer matches.
type Store interface {
	Create(ctx context.Context, ownerID string) (string, error)
	Get(ctx context.Context, id string) (Session, error)
	SetWallet(ctx context.Context, id, walletAddress string) error
	SetSwapRequest(ctx context.Context, id string, req model.SwapRequest) error
	Advance(ctx context.Context, id string, t Transition) error
	// ReplaceTransaction swaps the artifact of a TX_BUILT session whose
	// current build id is prevBuildID. Conflict otherwise.
	ReplaceTransaction(ctx context.Context, id, prevBuildID string, tx model.Transaction) error
	MarkDelivered(ctx context.Context, id string) error
	// FindActiveByOwner returns the wallet of the owner's most recent
	// unexpired session that has one.
	FindActiveByOwner(ctx context.Context, ownerID string) (string, bool, error)
	ExpireOlderThan(ctx context.Context, ttl time.Duration) (int, error)
	// PurgeTerminal removes delivered terminal sessions last updated more
	// than grace ago.
	PurgeTerminal(ctx context.Context, grace time.Duration) (int, error)
}
