package roster

import (
	"context"

	"github.com/minus-twelve/roster/types"
)

// Store is a single durable collection of records keyed by id. GetAll
// returns records in ascending id order.
type Store interface {
	Initialize(ctx context.Context) error
	Add(ctx context.Context, rec types.Record) error
	Update(ctx context.Context, rec types.Record) error
	Remove(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (types.Record, error)
	GetAll(ctx context.Context) ([]types.Record, error)
	Close() error
}

// SessionStore keeps the token, expiry and user across restarts.
type SessionStore interface {
	Load(ctx context.Context) (types.Session, bool, error)
	Save(ctx context.Context, session types.Session) error
	Clear(ctx context.Context) error
}
