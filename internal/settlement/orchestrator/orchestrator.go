// Package orchestrator executa uma liquidação: varre as carteiras dos projetos para a
// carteira master e distribui o pool coletado aos vencedores.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/prize-settlement/internal/settlement/allocation"
	"github.com/radieske/prize-settlement/internal/settlement/contribution"
	"github.com/radieske/prize-settlement/internal/settlement/ledger"
	"github.com/radieske/prize-settlement/internal/settlement/registry"
	"github.com/radieske/prize-settlement/internal/shared/config"
	"github.com/radieske/prize-settlement/internal/shared/metrics"
	"github.com/radieske/prize-settlement/pkg/contracts/events"
)

type Options struct {
	TokenID     string
	Master      ledger.WalletRef
	Policy      string // config.PolicyProportional | config.PolicyEqual
	Parallelism int
	CallTimeout time.Duration // teto por chamada ao ledger, incluindo retries do client

	Publisher   Publisher   // opcional
	Leaderboard Invalidator // opcional
	Metrics     *metrics.Settlement
	Log         *zap.Logger
}

type Orchestrator struct {
	ledger   Ledger
	registry Registry

	tokenID     string
	master      ledger.WalletRef
	policy      string
	parallelism int
	callTimeout time.Duration

	publisher   Publisher
	leaderboard Invalidator
	metrics     *metrics.Settlement
	log         *zap.Logger

	newRunID func() string
}

func New(l Ledger, r Registry, opts Options) (*Orchestrator, error) {
	if opts.TokenID == "" {
		return nil, errors.New("orchestrator: token id required")
	}
	if opts.Master.WalletID == "" || opts.Master.Address == "" {
		return nil, errors.New("orchestrator: master wallet id and address required")
	}
	switch opts.Policy {
	case "":
		opts.Policy = config.PolicyProportional
	case config.PolicyProportional, config.PolicyEqual:
	default:
		return nil, fmt.Errorf("orchestrator: unknown policy %q", opts.Policy)
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Orchestrator{
		ledger:      l,
		registry:    r,
		tokenID:     opts.TokenID,
		master:      opts.Master,
		policy:      opts.Policy,
		parallelism: opts.Parallelism,
		callTimeout: opts.CallTimeout,
		publisher:   opts.Publisher,
		leaderboard: opts.Leaderboard,
		metrics:     opts.Metrics,
		log:         opts.Log,
		newRunID:    uuid.NewString,
	}, nil
}

// DistributeToWinners executa INIT -> SWEEPING -> POOL_COMPUTED -> DISBURSING -> DONE.
// Falhas por carteira ou por vencedor viram entradas do resumo; só falhas estruturais
// (lista vazia, registro inacessível, ledger inteiro fora) voltam como erro.
func (o *Orchestrator) DistributeToWinners(ctx context.Context, winnerNames []string) (Summary, error) {
	names := normalizeNames(winnerNames)
	if len(names) == 0 {
		return Summary{}, ErrNoWinners
	}

	start := time.Now()
	s := Summary{RunID: o.newRunID(), Policy: o.policy, Pool: decimal.Zero}
	log := o.log.With(zap.String("run_id", s.RunID), zap.String("policy", o.policy))

	projects, err := o.registry.ListProjects(ctx)
	if err != nil {
		o.metrics.Run("error", time.Since(start).Seconds(), decimal.Zero)
		return s, fmt.Errorf("list projects: %w", err)
	}
	log.Info("settlement started", zap.Int("projects", len(projects)), zap.Strings("winners", names))

	// Depois do primeiro sweep o pool está na master: a execução segue até o fim mesmo
	// que o chamador desista. Cada chamada ao ledger continua limitada por callTimeout.
	ctx = context.WithoutCancel(ctx)

	sw := o.sweep(ctx, projects)
	s.Sweeps, s.Pool = sw.results, sw.pool
	if _, failedSweeps := countOK(s.Sweeps); failedSweeps > 0 {
		s.PartialSweep = true
		log.Warn("sweep incomplete", zap.Error(ErrPartialSweep), zap.Int("failed", failedSweeps))
	}
	if sw.reads > 0 && sw.unavailable == sw.reads {
		o.finish(ctx, log, s, start)
		return s, fmt.Errorf("%w: no project balance could be read", ledger.ErrUnavailable)
	}
	log.Info("pool computed", zap.String("pool", s.Pool.String()))

	s.Winners = o.Disburse(ctx, s.Pool, names)
	o.finish(ctx, log, s, start)
	return s, nil
}

// Sweep transfere o saldo integral de cada projeto para a master.
// O pool é a soma dos sweeps aceitos; carteiras com falha ficam de fora nesta execução.
func (o *Orchestrator) Sweep(ctx context.Context, projects []registry.Project) ([]TransferResult, decimal.Decimal) {
	sw := o.sweep(ctx, projects)
	return sw.results, sw.pool
}

type sweepOutcome struct {
	results     []TransferResult
	pool        decimal.Decimal
	reads       int
	unavailable int
}

func (o *Orchestrator) sweep(ctx context.Context, projects []registry.Project) sweepOutcome {
	type slot struct {
		result      *TransferResult
		read        bool
		unavailable bool
	}
	slots := make([]slot, len(projects))

	g := new(errgroup.Group)
	g.SetLimit(o.parallelism)
	for i, p := range projects {
		i, p := i, p
		if p.Wallet.WalletID == o.master.WalletID {
			continue
		}
		g.Go(func() error {
			r, err := o.sweepOne(ctx, p)
			slots[i] = slot{result: r, read: true, unavailable: err != nil && ledger.IsUnavailable(err)}
			return nil
		})
	}
	_ = g.Wait() // barreira entre sweep e distribuição

	out := sweepOutcome{pool: decimal.Zero}
	for _, sl := range slots {
		if sl.read {
			out.reads++
		}
		if sl.unavailable {
			out.unavailable++
		}
		if sl.result == nil {
			continue
		}
		out.results = append(out.results, *sl.result)
		if sl.result.OK() {
			out.pool = out.pool.Add(sl.result.Amount)
		}
	}
	return out
}

// sweepOne devolve nil quando não há saldo; err é só o erro da leitura de saldo
func (o *Orchestrator) sweepOne(ctx context.Context, p registry.Project) (*TransferResult, error) {
	cctx, cancel := o.callCtx(ctx)
	bal, err := o.ledger.Balance(cctx, p.Wallet.WalletID, o.tokenID)
	cancel()
	if err != nil {
		o.metrics.Transfer(events.LegSweep, err)
		o.log.Warn("sweep balance read failed", zap.String("project", p.Name), zap.String("wallet_id", p.Wallet.WalletID), zap.Error(err))
		r := failure(p.Name, p.Wallet.WalletID, decimal.Zero, fmt.Errorf("read balance: %w", err))
		return &r, err
	}
	if !bal.Found || !bal.Amount.IsPositive() {
		return nil, nil
	}

	id, err := o.transfer(ctx, p.Wallet.WalletID, bal.Amount, o.master.Address)
	o.metrics.Transfer(events.LegSweep, err)
	if err != nil {
		o.log.Warn("sweep transfer failed", zap.String("project", p.Name), zap.String("amount", bal.Amount.String()), zap.Error(err))
		r := failure(p.Name, p.Wallet.WalletID, bal.Amount, err)
		return &r, nil
	}
	return &TransferResult{Project: p.Name, Amount: bal.Amount, Counterparty: p.Wallet.WalletID, TransferID: id}, nil
}

type payment struct {
	project     string
	destination string
	amount      decimal.Decimal
}

// Disburse distribui pool entre os vencedores pela política configurada.
// A fatia é pool / nomes pedidos: a fatia de um vencedor desconhecido fica na master.
// Vencedores desconhecidos e projetos sem contribuições viram entradas de falha.
func (o *Orchestrator) Disburse(ctx context.Context, pool decimal.Decimal, winnerNames []string) []TransferResult {
	names := normalizeNames(winnerNames)
	winners, results := o.resolve(ctx, names)
	if len(winners) == 0 {
		return results
	}

	slice, err := allocation.EqualSplit(pool, len(names))
	if err != nil {
		o.log.Error("cannot split pool", zap.String("pool", pool.String()), zap.Error(err))
		return results
	}
	if !slice.IsPositive() {
		o.log.Info("pool empty, nothing to disburse", zap.String("pool", pool.String()))
		return results
	}

	var payments []payment
	switch o.policy {
	case config.PolicyEqual:
		for _, w := range winners {
			payments = append(payments, payment{project: w.Name, destination: w.Wallet.Address, amount: slice})
		}
	default:
		planned, failures := o.planProportional(ctx, winners, slice)
		payments = planned
		results = append(results, failures...)
	}

	return append(results, o.pay(ctx, payments)...)
}

func (o *Orchestrator) resolve(ctx context.Context, names []string) ([]registry.Project, []TransferResult) {
	var (
		winners  []registry.Project
		failures []TransferResult
	)
	for _, name := range names {
		p, found, err := o.registry.FindProjectByName(ctx, name)
		switch {
		case err != nil:
			failures = append(failures, failure(name, "", decimal.Zero, fmt.Errorf("lookup winner: %w", err)))
		case !found:
			o.log.Warn("unknown winner skipped", zap.String("winner", name))
			failures = append(failures, failure(name, "", decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownWinner, name)))
		default:
			winners = append(winners, p)
		}
	}
	return winners, failures
}

// planProportional reparte a fatia de cada vencedor entre quem contribuiu para a carteira dele.
// O destino do pagamento é o contribuinte, não o projeto vencedor.
func (o *Orchestrator) planProportional(ctx context.Context, winners []registry.Project, slice decimal.Decimal) ([]payment, []TransferResult) {
	plans := make([][]payment, len(winners))
	fails := make([]*TransferResult, len(winners))

	g := new(errgroup.Group)
	g.SetLimit(o.parallelism)
	for i, w := range winners {
		i, w := i, w
		g.Go(func() error {
			cctx, cancel := o.callCtx(ctx)
			txs, err := o.ledger.ListInboundConfirmed(cctx, o.tokenID, w.Wallet.Address)
			cancel()
			if err != nil {
				r := failure(w.Name, w.Wallet.Address, slice, fmt.Errorf("read contributions: %w", err))
				fails[i] = &r
				return nil
			}

			totals, err := contribution.Aggregate(txs, o.tokenID)
			if err != nil {
				if errors.Is(err, contribution.ErrNoContributions) {
					o.log.Info("winner has no contributions", zap.String("winner", w.Name))
				}
				r := failure(w.Name, w.Wallet.Address, decimal.Zero, err)
				fails[i] = &r
				return nil
			}

			alloc, err := allocation.Proportional(slice, totals.ByAddress, totals.GrandTotal)
			if err != nil {
				r := failure(w.Name, w.Wallet.Address, slice, fmt.Errorf("allocate: %w", err))
				fails[i] = &r
				return nil
			}
			if !alloc.Residual.IsZero() {
				o.log.Debug("allocation residual left in master", zap.String("winner", w.Name), zap.String("residual", alloc.Residual.String()))
			}
			for _, sh := range alloc.Shares {
				if sh.Address == o.master.Address {
					// parcela da própria master fica onde está
					o.log.Debug("master share kept", zap.String("winner", w.Name), zap.String("amount", sh.Amount.String()))
					continue
				}
				if sh.Amount.IsPositive() {
					plans[i] = append(plans[i], payment{project: w.Name, destination: sh.Address, amount: sh.Amount})
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var (
		payments []payment
		failures []TransferResult
	)
	for i := range winners {
		payments = append(payments, plans[i]...)
		if fails[i] != nil {
			failures = append(failures, *fails[i])
		}
	}
	return payments, failures
}

func (o *Orchestrator) pay(ctx context.Context, payments []payment) []TransferResult {
	results := make([]TransferResult, len(payments))

	g := new(errgroup.Group)
	g.SetLimit(o.parallelism)
	for i, p := range payments {
		i, p := i, p
		g.Go(func() error {
			id, err := o.transfer(ctx, o.master.WalletID, p.amount, p.destination)
			o.metrics.Transfer(events.LegPayout, err)
			if err != nil {
				o.log.Warn("payout failed", zap.String("winner", p.project), zap.String("destination", p.destination), zap.Error(err))
				results[i] = failure(p.project, p.destination, p.amount, err)
				return nil
			}
			results[i] = TransferResult{Project: p.project, Amount: p.amount, Counterparty: p.destination, TransferID: id}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) transfer(ctx context.Context, fromWalletID string, amount decimal.Decimal, destination string) (string, error) {
	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	return o.ledger.CreateTransfer(cctx, fromWalletID, o.tokenID, amount, destination)
}

func (o *Orchestrator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.callTimeout > 0 {
		return context.WithTimeout(ctx, o.callTimeout)
	}
	return context.WithCancel(ctx)
}

// finish registra métricas, publica eventos e invalida o leaderboard.
// Nenhuma dessas etapas altera o resultado da execução.
func (o *Orchestrator) finish(ctx context.Context, log *zap.Logger, s Summary, start time.Time) {
	sweepsOK, sweepsFailed := countOK(s.Sweeps)
	payoutsOK, payoutsFailed := countOK(s.Winners)

	outcome := "ok"
	switch {
	case sweepsOK+payoutsOK == 0 && sweepsFailed+payoutsFailed > 0:
		outcome = "error"
	case sweepsFailed+payoutsFailed > 0:
		outcome = "partial"
	}
	o.metrics.Run(outcome, time.Since(start).Seconds(), s.Pool)

	log.Info("settlement finished",
		zap.String("outcome", outcome),
		zap.String("pool", s.Pool.String()),
		zap.Int("sweeps_ok", sweepsOK),
		zap.Int("sweeps_failed", sweepsFailed),
		zap.Int("payouts_ok", payoutsOK),
		zap.Int("payouts_failed", payoutsFailed),
		zap.Duration("elapsed", time.Since(start)),
	)

	// o chamador pode ter cancelado; side effects finais usam contexto próprio
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if o.publisher != nil {
		if err := o.publisher.PublishLegs(bg, o.legEvents(s)); err != nil {
			log.Warn("settlement legs not published", zap.Error(err))
		}
		winners := make([]string, 0, len(s.Winners))
		seen := map[string]bool{}
		for _, w := range s.Winners {
			if !seen[w.Project] {
				seen[w.Project] = true
				winners = append(winners, w.Project)
			}
		}
		err := o.publisher.PublishCompleted(bg, events.SettlementCompleted{
			RunID:         s.RunID,
			Policy:        s.Policy,
			Pool:          s.Pool.String(),
			Winners:       winners,
			SweepsOK:      sweepsOK,
			SweepsFailed:  sweepsFailed,
			PayoutsOK:     payoutsOK,
			PayoutsFailed: payoutsFailed,
			PartialSweep:  s.PartialSweep,
		})
		if err != nil {
			log.Warn("settlement summary not published", zap.Error(err))
		}
	}
	if o.leaderboard != nil {
		o.leaderboard.Invalidate(bg)
	}
}

func (o *Orchestrator) legEvents(s Summary) []events.SettlementLeg {
	out := make([]events.SettlementLeg, 0, len(s.Sweeps)+len(s.Winners))
	for _, r := range s.Sweeps {
		out = append(out, events.SettlementLeg{
			RunID:         s.RunID,
			Leg:           events.LegSweep,
			Project:       r.Project,
			FromWalletID:  r.Counterparty,
			Destination:   o.master.Address,
			Amount:        r.Amount.String(),
			TransferID:    r.TransferID,
			FailureReason: r.Failure,
		})
	}
	for _, r := range s.Winners {
		out = append(out, events.SettlementLeg{
			RunID:         s.RunID,
			Leg:           events.LegPayout,
			Project:       r.Project,
			FromWalletID:  o.master.WalletID,
			Destination:   r.Counterparty,
			Amount:        r.Amount.String(),
			TransferID:    r.TransferID,
			FailureReason: r.Failure,
		})
	}
	return out
}

// normalizeNames remove espaços, vazios e repetidos, preservando a ordem
func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
