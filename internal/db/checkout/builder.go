package checkoutdb

import (
	"context"
	"database/sql"
	"log"
	"time"

	"boutique/internal/checkout"
)

// BuildOrderStore wires an OrderStore from the Postgres DSN. If the DSN is
// empty or initialization fails, it falls back to the in-memory store.
// The returned cleanup closes the DB connection when one was opened.
func BuildOrderStore(ctx context.Context, dsn string, logf func(format string, args ...any)) (checkout.OrderStore, func()) {
	if logf == nil {
		logf = log.Printf
	}

	cleanup := func() {}
	var store checkout.OrderStore = checkout.NewMemoryOrderStore()

	if dsn != "" {
		sqlDB, err := sql.Open("pgx", dsn)
		if err != nil {
			logf("postgres open failed, falling back to in-memory orders: %v", err)
		} else {
			setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			pgStore, err := NewOrderStoreWithSchema(setupCtx, sqlDB)
			if err != nil {
				logf("postgres init failed, falling back to in-memory orders: %v", err)
				_ = sqlDB.Close()
			} else {
				logf("postgres orders enabled")
				store = pgStore
				cleanup = func() {
					if err := sqlDB.Close(); err != nil {
						logf("close postgres: %v", err)
					}
				}
			}
		}
	}

	return store, cleanup
}
