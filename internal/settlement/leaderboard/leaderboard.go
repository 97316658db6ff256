// Package leaderboard lista os projetos registrados pelo saldo atual da carteira.
package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/prize-settlement/internal/settlement/registry"
)

type Projects interface {
	ListProjects(ctx context.Context) ([]registry.Project, error)
}

// Balances é a leitura "zero quando ausente ou indisponível" do ledger
type Balances interface {
	BalanceOrZero(ctx context.Context, walletID, tokenID string) decimal.Decimal
}

type Cache interface {
	Get(ctx context.Context, dst any) (bool, error)
	Set(ctx context.Context, v any, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

// Entry é uma linha do leaderboard
type Entry struct {
	Name          string          `json:"name"`
	WalletID      string          `json:"wallet_id"`
	WalletAddress string          `json:"wallet_address"`
	ENSAddress    string          `json:"ens_address,omitempty"`
	Balance       decimal.Decimal `json:"balance"`
}

type Service struct {
	projects    Projects
	balances    Balances
	cache       Cache // opcional
	tokenID     string
	ttl         time.Duration
	parallelism int
	log         *zap.Logger

	// gen avança a cada Invalidate; um snapshot calculado antes disso não é gravado
	gen atomic.Uint64
}

func NewService(log *zap.Logger, projects Projects, balances Balances, cache Cache, tokenID string, ttl time.Duration, parallelism int) *Service {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Service{
		projects:    projects,
		balances:    balances,
		cache:       cache,
		tokenID:     tokenID,
		ttl:         ttl,
		parallelism: parallelism,
		log:         log,
	}
}

// Get devolve os projetos ordenados por saldo decrescente (empate por nome).
// Falha de cache nunca derruba a leitura; só é logada.
func (s *Service) Get(ctx context.Context) ([]Entry, error) {
	if s.cache != nil {
		var cached []Entry
		hit, err := s.cache.Get(ctx, &cached)
		if err != nil {
			s.log.Warn("leaderboard cache read failed", zap.Error(err))
		} else if hit {
			return cached, nil
		}
	}

	gen := s.gen.Load()
	projects, err := s.projects.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}

	entries := make([]Entry, len(projects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, p := range projects {
		i, p := i, p
		g.Go(func() error {
			entries[i] = Entry{
				Name:          p.Name,
				WalletID:      p.Wallet.WalletID,
				WalletAddress: p.Wallet.Address,
				ENSAddress:    p.ENSAddress,
				Balance:       s.balances.BalanceOrZero(gctx, p.Wallet.WalletID, s.tokenID),
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(entries, func(i, j int) bool {
		if c := entries[i].Balance.Cmp(entries[j].Balance); c != 0 {
			return c > 0
		}
		return entries[i].Name < entries[j].Name
	})

	if s.cache != nil && s.ttl > 0 {
		s.store(ctx, gen, entries)
	}
	return entries, nil
}

// store grava o snapshot só se nenhuma liquidação invalidou o cache durante o cálculo
func (s *Service) store(ctx context.Context, gen uint64, entries []Entry) {
	if s.gen.Load() != gen {
		s.log.Debug("leaderboard snapshot discarded, invalidated while computing")
		return
	}
	if err := s.cache.Set(ctx, entries, s.ttl); err != nil {
		s.log.Warn("leaderboard cache write failed", zap.Error(err))
		return
	}
	// Invalidate entre a checagem e o Set
	if s.gen.Load() != gen {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.log.Warn("leaderboard cache invalidate failed", zap.Error(err))
		}
	}
}

// Invalidate descarta o snapshot em cache
func (s *Service) Invalidate(ctx context.Context) {
	s.gen.Add(1)
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Warn("leaderboard cache invalidate failed", zap.Error(err))
	}
}
