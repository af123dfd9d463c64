// Package billing exposes the credit gate consulted before a campaign
// transitions to sending. Debiting happens after successful sends and is
// owned by the billing subsystem, not the dispatch core.
package billing

import (
	"context"
	"database/sql"

	apperrors "github.com/astronote/astronote-backend/internal/errors"
)

// Gate answers "may this owner send count messages right now".
type Gate interface {
	CanSend(ctx context.Context, ownerID int64, count int) error
}

// WalletGate checks the owner's credit balance against the recipient
// count. The campaign must be fully fundable up front even though credits
// are debited per message after the fact.
type WalletGate struct {
	DB *sql.DB
}

func (g *WalletGate) CanSend(ctx context.Context, ownerID int64, count int) error {
	var balance int64
	err := g.DB.QueryRowContext(ctx,
		`SELECT credits FROM owner_settings WHERE owner_id = $1`, ownerID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return apperrors.NewInsufficientCredits(ownerID, count, 0)
	}
	if err != nil {
		return err
	}
	if balance < int64(count) {
		return apperrors.NewInsufficientCredits(ownerID, count, balance)
	}
	return nil
}

var _ Gate = (*WalletGate)(nil)
