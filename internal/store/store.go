// Package store escolhe o backend de persistência (Postgres ou memória)
// e expõe o conjunto de repositórios que os serviços usam.
package store

import (
	"context"
	"fmt"

	"github.com/radieske/arena-wager-platform/internal/health"
	"github.com/radieske/arena-wager-platform/internal/randomness"
	"github.com/radieske/arena-wager-platform/internal/round"
	"github.com/radieske/arena-wager-platform/internal/shared/db"
	"github.com/radieske/arena-wager-platform/internal/store/memory"
	"github.com/radieske/arena-wager-platform/internal/store/postgres"
	"github.com/radieske/arena-wager-platform/internal/txqueue"
	"github.com/radieske/arena-wager-platform/internal/wallet"
)

type Store interface {
	round.Store
	randomness.Store
	health.Store
	txqueue.Store
	wallet.Balances
}

// Ping só existe para o backend Postgres; o de memória está sempre de pé
type Pinger func(ctx context.Context) error

// Open devolve o backend pedido e a função que o fecha.
// kind: "postgres" | "memory"
func Open(kind, dsn string) (Store, Pinger, func(), error) {
	switch kind {
	case "memory":
		return memory.New(), nil, func() {}, nil
	case "postgres", "":
		pg, err := db.ConnectPostgres(dsn)
		if err != nil {
			return nil, nil, nil, err
		}
		return postgres.New(pg), pg.PingContext, func() { _ = pg.Close() }, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store %q", kind)
}
