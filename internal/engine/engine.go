package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/chaoschain/verdict-engine/internal/fixedpoint"
	"github.com/chaoschain/verdict-engine/internal/ledger"
	"github.com/chaoschain/verdict-engine/internal/registry"
	"github.com/chaoschain/verdict-engine/internal/reputation"
	"github.com/chaoschain/verdict-engine/internal/scoring"
	"github.com/chaoschain/verdict-engine/pkg/models"
)

// Engine closes epochs: per work it computes the robust consensus for every
// participant, the validator accuracy weights, and the deterministic budget
// split, then applies the whole effect set atomically. Closure is
// idempotent: a closed work is a no-op on re-invocation.
//
// Settlement is pull-based: payouts credit a withdrawable balance, the
// engine never pushes funds.

// ClosureStore persists the effects of one closed work durably. A store
// failure aborts the closure of that work before any in-memory mutation.
type ClosureStore interface {
	SaveCloseReport(ctx context.Context, report *models.WorkCloseReport) error
}

// ClosedSink observes finalized works (the websocket hub). May be nil.
type ClosedSink func(event models.WorkClosedEvent)

type Engine struct {
	mu sync.Mutex // single writer across closures

	ledger    *ledger.Ledger
	configs   registry.StudioConfigSource
	payouts   registry.PayoutResolver
	publisher *reputation.Publisher // may be nil
	store     ClosureStore          // may be nil (memory-only mode)
	onClosed  ClosedSink

	paramsMu sync.RWMutex
	params   Params

	progress progressTracker

	// Authoritative settlement state, partitioned by account and work.
	withdrawables map[models.Address]uint64
	residuals     map[chainhash.Hash]uint64
	consensus     map[chainhash.Hash]models.ConsensusResult // by consensus key
	reports       map[chainhash.Hash]models.WorkCloseReport // by work id
}

func New(led *ledger.Ledger, configs registry.StudioConfigSource, payouts registry.PayoutResolver, publisher *reputation.Publisher, store ClosureStore, onClosed ClosedSink) *Engine {
	return &Engine{
		ledger:        led,
		configs:       configs,
		payouts:       payouts,
		publisher:     publisher,
		store:         store,
		onClosed:      onClosed,
		params:        DefaultParams(),
		withdrawables: make(map[models.Address]uint64),
		residuals:     make(map[chainhash.Hash]uint64),
		consensus:     make(map[chainhash.Hash]models.ConsensusResult),
		reports:       make(map[chainhash.Hash]models.WorkCloseReport),
	}
}

// SetConsensusParameters installs a new parameter set after range checks.
func (e *Engine) SetConsensusParameters(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.paramsMu.Lock()
	defer e.paramsMu.Unlock()
	e.params = p
	return nil
}

// Parameters returns the active parameter set.
func (e *Engine) Parameters() Params {
	e.paramsMu.RLock()
	defer e.paramsMu.RUnlock()
	return e.params
}

// Progress returns a snapshot of the running (or last) closure.
func (e *Engine) Progress() CloseProgress {
	return e.progress.snapshot()
}

// CloseEpoch finalizes every closable work of (studio, epoch) in
// registration order. Already-closed works are skipped without effect;
// works still inside their windows are left untouched. An arithmetic or
// store error aborts loudly with no mutation for the failing work.
func (e *Engine) CloseEpoch(ctx context.Context, studio models.Address, epoch uint64) (models.EpochCloseReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := models.EpochCloseReport{Studio: studio, Epoch: epoch}
	ids := e.ledger.WorksInEpoch(studio, epoch)
	e.progress.begin(epoch, len(ids))
	defer e.progress.finish()

	for _, id := range ids {
		e.progress.step(id)
		w, err := e.ledger.Work(id)
		if err != nil {
			return report, err
		}
		phase := w.Phase(e.ledger.Now())
		if phase == models.PhaseClosed {
			report.WorksSkipped++
			continue
		}
		if phase != models.PhaseClosable {
			log.Printf("Engine: work %s not closable yet (phase %s), skipping", id, phase)
			continue
		}

		wcr, err := e.computeWorkReport(&w)
		if err != nil {
			return report, err
		}
		if e.store != nil {
			if err := e.store.SaveCloseReport(ctx, &wcr); err != nil {
				return report, err
			}
		}
		if err := e.applyWorkReport(&wcr); err != nil {
			return report, err
		}
		if e.publisher != nil {
			e.publisher.PublishWork(&wcr, w.EvidencePointer)
		}
		if e.onClosed != nil {
			e.onClosed(models.WorkClosedEvent{
				WorkID:          wcr.WorkID,
				Studio:          studio,
				Epoch:           epoch,
				WorkerTotal:     sumWorker(&wcr),
				ValidatorTotal:  sumValidator(&wcr),
				OrchestratorFee: wcr.Allocation.OrchestratorFee,
				Residual:        wcr.Residual,
			})
		}

		workerPaid := sumWorker(&wcr)
		validatorPaid := sumValidator(&wcr)
		report.Works = append(report.Works, wcr)
		report.WorksProcessed++
		report.TotalWorkerRewards += workerPaid
		report.TotalValidatorRewards += validatorPaid
		report.OrchestratorFeeTotal += wcr.Allocation.OrchestratorFee
		e.progress.applied(workerPaid, validatorPaid, wcr.Allocation.OrchestratorFee)
	}
	return report, nil
}

// computeWorkReport derives the complete effect set of one work without
// touching any state. Suspension-free: reads in, report out.
func (e *Engine) computeWorkReport(w *models.Work) (models.WorkCloseReport, error) {
	cfg := e.configs.Config(w.Studio)
	alpha := e.Parameters().Alpha
	dims := cfg.Dimensions()
	now := e.ledger.Now()

	wcr := models.WorkCloseReport{
		WorkID:           w.ID,
		Studio:           w.Studio,
		Epoch:            w.Epoch,
		OrchestratorAcct: e.payouts.ResolvePayout(w.Studio),
	}

	// Degenerate case: nobody scored anything. The work closes with
	// defaults, no payouts at all, and the full budget stays in escrow.
	submissions := e.ledger.Submissions(w.ID)
	if len(submissions) == 0 {
		wcr.Defaulted = true
		wcr.Allocation = models.Allocation{Budget: w.Budget}
		wcr.Residual = w.Budget
		for _, worker := range w.Participants {
			wcr.Consensus = append(wcr.Consensus, defaultConsensus(w.ID, worker, dims, now))
		}
		return wcr, nil
	}

	alloc, err := splitBudget(w.Budget)
	if err != nil {
		return wcr, err
	}
	wcr.Allocation = alloc

	// Per-worker consensus in declared-participant order, accumulating
	// each validator's squared error across the workers it scored.
	errSums := make(map[models.Address]uint64)
	scoredDims := make(map[models.Address]int)
	for _, worker := range w.Participants {
		rows := e.ledger.MatrixFor(w.ID, worker)
		if len(rows) == 0 {
			wcr.Consensus = append(wcr.Consensus, defaultConsensus(w.ID, worker, dims, now))
			continue
		}
		agg, err := scoring.Aggregate(rows, dims, alpha)
		if err != nil {
			return wcr, err
		}
		quality, err := qualityScalar(agg.Scores, cfg)
		if err != nil {
			return wcr, err
		}
		wcr.Consensus = append(wcr.Consensus, models.ConsensusResult{
			Key:            models.ConsensusKey(w.ID, worker),
			WorkID:         w.ID,
			Worker:         worker,
			Scores:         agg.Scores,
			ValidatorCount: agg.ValidatorCount,
			TotalStake:     agg.TotalStake,
			Quality:        quality,
			ComputedAt:     now,
			Finalized:      true,
		})

		payout, err := fixedpoint.MulDiv3U64(alloc.WorkerPool, uint64(w.Weight(worker)), uint64(quality), uint64(models.WeightBasis)*100)
		if err != nil {
			return wcr, err
		}
		wcr.WorkerPayouts = append(wcr.WorkerPayouts, models.WorkerPayout{
			Worker:  worker,
			Payee:   e.payouts.ResolvePayout(worker),
			Weight:  w.Weight(worker),
			Quality: quality,
			Amount:  payout,
		})

		for _, rs := range agg.Rows {
			if rs.Scored == 0 {
				continue
			}
			sum, err := fixedpoint.AddU64(errSums[rs.Validator], rs.SquaredDev)
			if err != nil {
				return wcr, err
			}
			errSums[rs.Validator] = sum
			scoredDims[rs.Validator] += rs.Scored
		}
	}

	// Validator accuracy weights and payouts, first-sighting order.
	// omega = S*S/(S+E): S at zero error, monotone decreasing in error.
	type weighted struct {
		validator models.Address
		errSum    uint64
		omega     uint64
	}
	var (
		weights    []weighted
		totalOmega uint64
	)
	for _, v := range e.ledger.Validators(w.ID) {
		if scoredDims[v] == 0 {
			continue
		}
		denom, err := fixedpoint.AddU64(models.Scale, errSums[v])
		if err != nil {
			return wcr, err
		}
		omega, err := fixedpoint.MulDivU64(models.Scale, models.Scale, denom)
		if err != nil {
			return wcr, err
		}
		weights = append(weights, weighted{validator: v, errSum: errSums[v], omega: omega})
		if totalOmega, err = fixedpoint.AddU64(totalOmega, omega); err != nil {
			return wcr, err
		}
	}
	for _, wv := range weights {
		pay, err := fixedpoint.MulDivU64(alloc.ValidatorPool, wv.omega, totalOmega)
		if err != nil {
			return wcr, err
		}
		perf, err := fixedpoint.MulDivU64(wv.omega, 100, models.Scale)
		if err != nil {
			return wcr, err
		}
		if perf > 100 {
			perf = 100
		}
		wcr.ValidatorRewards = append(wcr.ValidatorRewards, models.ValidatorReward{
			Validator:   wv.validator,
			Payee:       e.payouts.ResolvePayout(wv.validator),
			Error:       wv.errSum,
			Weight:      wv.omega,
			Amount:      pay,
			Performance: uint8(perf),
		})
	}

	// Dust from integer division stays in the work's residual; the sum of
	// all credits never exceeds the budget.
	residual, err := fixedpoint.SubU64(w.Budget, wcr.TotalPaid())
	if err != nil {
		return wcr, err
	}
	wcr.Residual = residual
	return wcr, nil
}

// applyWorkReport commits a computed report: mark closed, credit
// withdrawables, record consensus and residual. All additions are checked;
// a failure here leaves the work unclosed and aborts the epoch run.
func (e *Engine) applyWorkReport(wcr *models.WorkCloseReport) error {
	// Stage every credit against current balances before mutating
	// anything, so an overflow aborts with no partial effect.
	type credit struct {
		account models.Address
		amount  uint64
	}
	credits := make([]credit, 0, 1+len(wcr.WorkerPayouts)+len(wcr.ValidatorRewards))
	if wcr.Allocation.OrchestratorFee > 0 {
		credits = append(credits, credit{wcr.OrchestratorAcct, wcr.Allocation.OrchestratorFee})
	}
	for _, p := range wcr.WorkerPayouts {
		credits = append(credits, credit{p.Payee, p.Amount})
	}
	for _, v := range wcr.ValidatorRewards {
		credits = append(credits, credit{v.Payee, v.Amount})
	}
	staged := make(map[models.Address]uint64, len(credits))
	for _, c := range credits {
		base, ok := staged[c.account]
		if !ok {
			base = e.withdrawables[c.account]
		}
		next, err := fixedpoint.AddU64(base, c.amount)
		if err != nil {
			return err
		}
		staged[c.account] = next
	}

	if err := e.ledger.MarkClosed(wcr.WorkID); err != nil {
		return err
	}
	for account, amount := range staged {
		e.withdrawables[account] = amount
	}
	e.residuals[wcr.WorkID] = wcr.Residual
	for _, res := range wcr.Consensus {
		e.consensus[res.Key] = res
	}
	e.reports[wcr.WorkID] = *wcr
	return nil
}

// Consensus returns the finalized result for (work, worker). The second
// return is false when no such result exists (MissingData, not an error).
func (e *Engine) Consensus(workID chainhash.Hash, worker models.Address) (models.ConsensusResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, ok := e.consensus[models.ConsensusKey(workID, worker)]
	return res, ok
}

// Report returns the close report of a work, if closed.
func (e *Engine) Report(workID chainhash.Hash) (models.WorkCloseReport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.reports[workID]
	return r, ok
}

// Withdrawable returns an account's pull-settlement balance.
func (e *Engine) Withdrawable(account models.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.withdrawables[account]
}

// Residual returns the unspent escrow dust of a closed work.
func (e *Engine) Residual(workID chainhash.Hash) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.residuals[workID]
}

// splitBudget applies the fixed 5/10/85 policy with floor division; the
// worker pool absorbs the flooring remainder of the two carved shares.
func splitBudget(budget uint64) (models.Allocation, error) {
	fee, err := fixedpoint.MulDivU64(budget, models.OrchestratorFeePct, 100)
	if err != nil {
		return models.Allocation{}, err
	}
	vpool, err := fixedpoint.MulDivU64(budget, models.ValidatorPoolPct, 100)
	if err != nil {
		return models.Allocation{}, err
	}
	rest, err := fixedpoint.SubU64(budget, fee)
	if err != nil {
		return models.Allocation{}, err
	}
	wpool, err := fixedpoint.SubU64(rest, vpool)
	if err != nil {
		return models.Allocation{}, err
	}
	return models.Allocation{Budget: budget, OrchestratorFee: fee, ValidatorPool: vpool, WorkerPool: wpool}, nil
}

// qualityScalar combines universal and custom consensus into the 0..100
// quality q = floor((w_u * u_avg + w_c * c_weighted) / S).
func qualityScalar(scores []uint8, cfg models.StudioConfig) (uint8, error) {
	var usum uint64
	for d := 0; d < models.UniversalDimensions && d < len(scores); d++ {
		usum += uint64(scores[d])
	}
	uavg := usum / models.UniversalDimensions

	k := len(cfg.CustomWeights)
	if k == 0 {
		// No custom dimensions declared: quality is the universal average
		// outright, not a blend against a neutral placeholder.
		if uavg > 100 {
			uavg = 100
		}
		return uint8(uavg), nil
	}

	cweighted := uint64(models.NeutralScore)
	if len(scores) >= models.UniversalDimensions+k {
		var sum uint64
		for i := 0; i < k; i++ {
			term, err := fixedpoint.MulU64(cfg.CustomWeights[i], uint64(scores[models.UniversalDimensions+i]))
			if err != nil {
				return 0, err
			}
			if sum, err = fixedpoint.AddU64(sum, term); err != nil {
				return 0, err
			}
		}
		cweighted = sum / models.Scale
	}

	uterm, err := fixedpoint.MulU64(cfg.WU, uavg)
	if err != nil {
		return 0, err
	}
	cterm, err := fixedpoint.MulU64(cfg.WC, cweighted)
	if err != nil {
		return 0, err
	}
	total, err := fixedpoint.AddU64(uterm, cterm)
	if err != nil {
		return 0, err
	}
	q := total / models.Scale
	if q > 100 {
		q = 100
	}
	return uint8(q), nil
}

// defaultConsensus is the zero-stake neutral record for a worker nobody
// scored. It is persisted but never published as reputation.
func defaultConsensus(workID chainhash.Hash, worker models.Address, dims int, now time.Time) models.ConsensusResult {
	scores := make([]uint8, dims)
	for i := range scores {
		scores[i] = models.NeutralScore
	}
	return models.ConsensusResult{
		Key:        models.ConsensusKey(workID, worker),
		WorkID:     workID,
		Worker:     worker,
		Scores:     scores,
		ComputedAt: now,
		Finalized:  true,
	}
}

func sumWorker(wcr *models.WorkCloseReport) uint64 {
	var s uint64
	for _, p := range wcr.WorkerPayouts {
		s += p.Amount
	}
	return s
}

func sumValidator(wcr *models.WorkCloseReport) uint64 {
	var s uint64
	for _, v := range wcr.ValidatorRewards {
		s += v.Amount
	}
	return s
}
