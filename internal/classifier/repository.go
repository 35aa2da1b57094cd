package classifier

import (
	"fmt"

	"cratemind/internal/config"
	"cratemind/internal/store"
	"cratemind/internal/store/memstore"
	"cratemind/internal/store/sqlstore"
)

// OpenRepository opens the storage backend selected by cfg.
func OpenRepository(cfg *config.Config) (store.Repository, error) {
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		return memstore.New(), nil
	case config.StorageSQLite, "":
		s, err := sqlstore.Open(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
