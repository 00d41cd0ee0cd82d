// Package exchange defines the venue-neutral client contract, the shared
// signed-HTTP transport, and the error taxonomy used by every venue package.
package exchange

import (
	"context"
	"time"

	"github.com/perpjournal/tradesync/internal/model"
)

// Client fetches closed-position history from one venue on behalf of one
// credential set. Implementations page through venue fill endpoints and fold
// fills into positions before returning.
type Client interface {
	// Exchange reports the venue this client talks to.
	Exchange() model.Exchange

	// ValidateCredentials performs a cheap authenticated call to confirm the
	// stored credentials still work. A nil error means the venue accepted them.
	ValidateCredentials(ctx context.Context) error

	// FetchTradeHistory returns closed positions newer than since. A nil since
	// means the venue's full retention window.
	FetchTradeHistory(ctx context.Context, since *time.Time) ([]model.Position, error)
}
