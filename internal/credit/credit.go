// Package credit implements the coordinator's time-based credit economy:
// reservation at submission, settlement at completion, and the clamped
// cost/reward arithmetic between them. It is a thin layer over
// internal/store's ledger rows; no balances are held in memory, so
// submitters survive coordinator restarts.
package credit

import (
	"math"

	"github.com/gridx-labs/coordinator/internal/config"
	"github.com/gridx-labs/coordinator/internal/gridtypes"
	"github.com/gridx-labs/coordinator/internal/persist"
	"github.com/gridx-labs/coordinator/internal/store"
)

// Engine computes and applies the cost/reward economy against a Store.
type Engine struct {
	st  *store.Store
	cfg config.Config
	log *persist.Logger
}

// New returns an Engine bound to st, configured from cfg.
func New(st *store.Store, cfg config.Config, log *persist.Logger) *Engine {
	return &Engine{st: st, cfg: cfg, log: log}
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MaxReserve returns the credit hold for a job declaring timeoutSeconds,
// substituting the configured default when timeoutSeconds is non-positive.
func (e *Engine) MaxReserve(timeoutSeconds int) float64 {
	if timeoutSeconds <= 0 {
		timeoutSeconds = e.cfg.DefaultJobTimeout
	}
	return round4(clamp(float64(timeoutSeconds)*e.cfg.CostPerSecond, e.cfg.MinCost, e.cfg.MaxCost))
}

// ComputeCost returns the charge for an actual duration. A nil or negative
// duration (the worker never reported one) charges the configured minimum.
func (e *Engine) ComputeCost(duration *float64) float64 {
	if duration == nil || *duration < 0 {
		return e.cfg.MinCost
	}
	return round4(clamp(*duration*e.cfg.CostPerSecond, e.cfg.MinCost, e.cfg.MaxCost))
}

// ComputeReward returns the owner's share of an actual cost.
func (e *Engine) ComputeReward(actualCost float64) float64 {
	if actualCost <= 0 {
		return 0
	}
	return round4(actualCost * e.cfg.RewardRatio)
}

// EnsureUser creates userID's ledger at the configured initial balance if
// it doesn't already exist, and returns its current balance.
func (e *Engine) EnsureUser(userID string) (float64, error) {
	return e.st.EnsureUser(userID, e.cfg.InitialCredits)
}

// Reserve debits amount from userID's balance, first ensuring the ledger
// exists. It returns false (no error) if the balance is insufficient — the
// caller maps that to HTTP 402.
func (e *Engine) Reserve(userID string, amount float64) (bool, error) {
	if _, err := e.EnsureUser(userID); err != nil {
		return false, err
	}
	return e.st.Deduct(userID, amount)
}

// Refund credits amount back to userID, e.g. after a failed job creation
// or a settlement refund.
func (e *Engine) Refund(userID string, amount float64) error {
	if amount <= 0 {
		return nil
	}
	return e.st.Credit(userID, amount)
}

// Settle applies the coordinator's settlement rules to a completed job:
// the difference between what was reserved and what was actually consumed
// is refunded to the submitter, and the owner's reward share is credited,
// independently and best-effort. Failure to credit one side is logged but
// does not prevent the other from landing; a caller wanting
// one-transaction settlement would need to extend the Store instead. The
// returned reward is zero when no owner credit landed.
func (e *Engine) Settle(job *gridtypes.Job, ownerID string, duration *float64) (actualCost, reward float64, err error) {
	reserved := job.ReservedCost
	if reserved <= 0 {
		reserved = e.cfg.MaxCost
	}
	actual := e.ComputeCost(duration)
	refund := reserved - actual
	if refund < 0 {
		refund = 0
	}
	reward = e.ComputeReward(actual)

	if refund > 0 && job.SubmitterID != "" {
		if err := e.st.Credit(job.SubmitterID, refund); err != nil {
			e.logf("settlement refund failed for job %s user %s: %v", job.ID, job.SubmitterID, err)
		}
	}
	// An owner equal to the submitter earns nothing. PickIdle already
	// keeps self-owned workers from being dispatched a submitter's job;
	// this guards the same rule at the ledger.
	if ownerID == "" || ownerID == job.SubmitterID {
		reward = 0
	}
	if reward > 0 {
		if err := e.st.Credit(ownerID, reward); err != nil {
			e.logf("settlement reward failed for job %s owner %s: %v", job.ID, ownerID, err)
			reward = 0
		}
	}

	if err := e.st.SetJobSettlement(job.ID, duration, actual); err != nil {
		return actual, reward, err
	}
	return actual, reward, nil
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.log != nil {
		e.log.Warnf(format, args...)
	}
}
