package roster

import (
	"errors"

	"github.com/minus-twelve/roster/storage"
	"github.com/minus-twelve/roster/types"
)

func CreateStore(cfg types.Config) (Store, error) {
	switch cfg.StoreType {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "redis":
		return storage.NewRedisStore(cfg.Redis), nil
	case "sqlite":
		return storage.NewSQLiteStore(cfg.SQLite), nil
	default:
		return nil, errors.New("invalid store type")
	}
}

func CreateSessionStore(cfg types.Config) (SessionStore, error) {
	switch cfg.Session.StoreType {
	case "memory":
		return storage.NewMemorySessionStore(), nil
	case "redis":
		return storage.NewRedisSessionStore(cfg.Redis), nil
	case "sqlite":
		return storage.NewSQLiteSessionStore(cfg.SQLite), nil
	default:
		return nil, errors.New("invalid session store type")
	}
}
