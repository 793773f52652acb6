package account

import (
	"context"
	"errors"

	"github.com/cbruun/smsbridge/internal/model"
)

// ErrNotFound is returned when no account snapshot has been stored yet.
var ErrNotFound = errors.New("account config not found")

// Store holds the gateway account configuration. The core treats it as an
// external key-value collaborator: fetch a snapshot per operation, never
// mutate fields in place.
type Store interface {
	Get(ctx context.Context) (model.Account, error)
	Set(ctx context.Context, acct model.Account) error
}
