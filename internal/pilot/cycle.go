package pilot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dropship-autopilot/internal/attemptlog"
	"dropship-autopilot/internal/events"
	"dropship-autopilot/internal/ledger"
	"dropship-autopilot/internal/logger"
	"dropship-autopilot/internal/trace"
	"dropship-autopilot/internal/types"
)

// runCycle executes one search→gate→decide→act pass. Failures local to one
// opportunity never abort the cycle; only an unreachable opportunity source
// does.
func (p *Pilot) runCycle(ctx context.Context, explicitQuery string, manual bool) (*types.CycleResult, error) {
	prev, err := p.beginCycle()
	if err != nil {
		return nil, err
	}

	cfg, query := p.snapshotConfig(explicitQuery)

	if !cfg.Enabled && !manual {
		// Disabled via config: the tick is a no-op, not a failure.
		logger.Debug(ctx, "Cycle skipped; autopilot disabled")
		p.endCycle(prev, nil)
		return nil, nil
	}

	ctx, span := trace.StartSpan(ctx, "pilot.runCycle")
	defer span.End()
	cctx, cancel := context.WithTimeout(ctx, p.deps.CycleDeadline)
	defer cancel()

	res := p.executeCycle(cctx, cfg, query)

	// Persist on the parent context; the cycle context may already have
	// expired, and a timed-out cycle's result still belongs in history.
	if err := p.deps.Results.Append(ctx, *res); err != nil {
		logger.ErrorWithErr(ctx, "Failed to persist cycle result", err)
	}
	p.endCycle(prev, res)
	return res, nil
}

func (p *Pilot) executeCycle(ctx context.Context, cfg types.CycleConfig, query string) *types.CycleResult {
	res := &types.CycleResult{
		Category:    types.CategoryCompleted,
		Query:       query,
		CapitalUsed: decimal.Zero,
		StartedAt:   time.Now(),
	}

	logger.Info(ctx, "Cycle started", "query", query, "mode", string(cfg.PublicationMode))
	p.deps.Bus.Publish(events.Event{Type: events.TypeCycleStarted, Query: query})

	// The working-capital total follows the config snapshot; existing holds
	// and commitments are unaffected.
	p.deps.Ledger.SetWorkingCapital(cfg.WorkingCapital)

	opps, err := p.deps.Source.Search(ctx, query, cfg.MaxOpportunitiesPerCycle)
	if err != nil {
		res.Success = false
		res.Category = types.CategorySourceFailed
		res.Message = "opportunity source unreachable"
		res.Errors = append(res.Errors, err.Error())
		res.FinishedAt = time.Now()
		p.deps.Bus.Publish(events.Event{Type: events.TypeCycleFailed, Message: res.Message, Errors: res.Errors})
		logger.Cycle(ctx, query, false, 0, 0, "category", res.Category)
		return res
	}
	if len(opps) > cfg.MaxOpportunitiesPerCycle {
		opps = opps[:cfg.MaxOpportunitiesPerCycle]
	}
	res.OpportunitiesFound = len(opps)

	// Source order is relevance order; no re-sorting, no re-scoring.
	for _, opp := range opps {
		p.processOpportunity(ctx, cfg, opp, res)
	}

	res.Success = true
	res.Message = fmt.Sprintf("processed %d of %d opportunities", res.OpportunitiesProcessed, res.OpportunitiesFound)
	res.FinishedAt = time.Now()

	p.deps.Bus.Publish(events.Event{Type: events.TypeCycleCompleted, Result: res})
	logger.Cycle(ctx, query, true, res.ProductsPublished, res.ProductsQueued,
		"found", res.OpportunitiesFound,
		"processed", res.OpportunitiesProcessed,
		"capital_used", res.CapitalUsed.String(),
	)
	return res
}

// processOpportunity applies the autonomy gate, the capital check and then
// either queues or publishes, in that order.
func (p *Pilot) processOpportunity(ctx context.Context, cfg types.CycleConfig, opp types.Opportunity, res *types.CycleResult) {
	// Autonomy gate. Failing it drops the opportunity entirely, regardless
	// of publication mode. This is routine filtering, not a fault, so it is
	// not recorded as an error.
	if opp.EstimatedProfit.LessThan(cfg.MinProfit) || opp.ROIPct.LessThan(cfg.MinROIPct) {
		logger.Debug(ctx, "Opportunity below profitability thresholds",
			"opportunity_id", opp.ID,
			"profit", opp.EstimatedProfit.String(),
			"roi_pct", opp.ROIPct.String(),
		)
		return
	}

	available, err := p.deps.Ledger.Available(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("capital check failed for %q: %v", opp.Title, err))
		return
	}
	if opp.EstimatedCost.GreaterThan(available) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("insufficient_capital: %q needs %s, available %s",
			opp.Title, opp.EstimatedCost.String(), available.String()))
		return
	}

	switch cfg.PublicationMode {
	case types.ModeManual:
		// No capital is reserved yet; that happens when the approval is
		// published.
		if _, err := p.deps.Approvals.Enqueue(ctx, opp); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("queue for approval failed for %q: %v", opp.Title, err))
			return
		}
		res.OpportunitiesProcessed++
		res.ProductsQueued++
		o := opp
		p.deps.Bus.Publish(events.Event{Type: events.TypeProductQueued, Opportunity: &o})

	case types.ModeAutomatic:
		res.OpportunitiesProcessed++
		outcome := p.publishOne(ctx, cfg, opp)
		if outcome.err != "" {
			res.Errors = append(res.Errors, outcome.err)
			return
		}
		if outcome.warning != "" {
			res.Warnings = append(res.Warnings, outcome.warning)
			return
		}
		res.ProductsPublished++
		res.CapitalUsed = res.CapitalUsed.Add(opp.EstimatedCost)

	default:
		// Never publish on an unrecognized mode.
		res.Errors = append(res.Errors, fmt.Sprintf("unknown publication_mode '%s'; opportunity %q not processed", cfg.PublicationMode, opp.Title))
	}
}

type publishOutcome struct {
	listingID string
	err       string
	warning   string
}

// publishOne is the shared capital-reservation-then-publish path used by
// automatic cycles and by manual-approval publishing.
func (p *Pilot) publishOne(ctx context.Context, cfg types.CycleConfig, opp types.Opportunity) publishOutcome {
	reservation, err := p.deps.Ledger.TryReserve(ctx, opp.EstimatedCost)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCapital) {
			return publishOutcome{warning: fmt.Sprintf("insufficient_capital: %q needs %s", opp.Title, opp.EstimatedCost.String())}
		}
		return publishOutcome{err: fmt.Sprintf("capital reservation failed for %q: %v", opp.Title, err)}
	}

	creds, err := p.deps.Resolver.Resolve(ctx, p.deps.UserID, cfg.TargetMarketplace, "")
	if err != nil {
		reservation.Release()
		return publishOutcome{err: fmt.Sprintf("credential resolution failed for %q: %v", opp.Title, err)}
	}
	if creds.Missing() {
		// Surfaced distinctly from publish failures: "never configured" is
		// not "configured but rejected".
		reservation.Release()
		return publishOutcome{err: fmt.Sprintf("missing_credentials: no %s credentials for %q", cfg.TargetMarketplace, opp.Title)}
	}

	attempt, pubErr := p.deps.Gateway.Publish(ctx, opp, creds)
	p.recordAttempt(ctx, attempt)

	if pubErr != nil || !attempt.Success {
		reservation.Release()
		msg := attempt.Error
		if msg == "" && pubErr != nil {
			msg = pubErr.Error()
		}
		return publishOutcome{err: fmt.Sprintf("publish failed for %q: %s", opp.Title, msg)}
	}

	if err := reservation.Commit(ctx, opp, attempt.ListingID); err != nil {
		// Listed but not recorded as a purchase. Keep the listing and
		// surface the bookkeeping failure loudly.
		logger.ErrorWithErr(ctx, "Failed to commit capital after publish", err,
			"opportunity_id", opp.ID, "listing_id", attempt.ListingID)
		return publishOutcome{err: fmt.Sprintf("capital commit failed for %q after publish: %v", opp.Title, err)}
	}

	o := opp
	p.deps.Bus.Publish(events.Event{Type: events.TypeProductPublished, Opportunity: &o, ListingID: attempt.ListingID})
	return publishOutcome{listingID: attempt.ListingID}
}

func (p *Pilot) recordAttempt(ctx context.Context, attempt types.PublishAttempt) {
	if err := p.deps.Attempts.Insert(ctx, attempt); err != nil {
		logger.ErrorWithErr(ctx, "Failed to persist publish attempt", err, "opportunity_id", attempt.OpportunityID)
	}
	if err := attemptlog.Append(attempt); err != nil {
		logger.Warn(ctx, "Failed to journal publish attempt", "error", err)
	}
}

// PublishApproved publishes a human-approved opportunity through the same
// capital/credential/publish path as automatic cycles, outside the timer.
// The capital ledger serializes it against any concurrent cycle.
func (p *Pilot) PublishApproved(ctx context.Context, approvalID string) (*types.PublishAttempt, error) {
	// Serialized so two calls for the same approval cannot both see it as
	// still approved and create two listings.
	p.pubMu.Lock()
	defer p.pubMu.Unlock()

	pa, err := p.deps.Approvals.Get(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if pa.Status != types.ApprovalApproved {
		return nil, fmt.Errorf("approval %s is %s, not approved", approvalID, pa.Status)
	}

	p.mu.Lock()
	cfg := p.cfg
	p.mu.Unlock()

	ctx, span := trace.StartSpan(ctx, "pilot.PublishApproved")
	defer span.End()

	outcome := p.publishOne(ctx, cfg, pa.Opportunity)
	if outcome.err != "" {
		return nil, errors.New(outcome.err)
	}
	if outcome.warning != "" {
		return nil, errors.New(outcome.warning)
	}

	// Consume the approval so it cannot be published again. A failed
	// publish leaves it approved and retryable.
	if err := p.deps.Approvals.MarkPublished(ctx, approvalID); err != nil {
		logger.ErrorWithErr(ctx, "Failed to mark approval published", err, "approval_id", approvalID)
	}

	attempt := types.PublishAttempt{
		OpportunityID: pa.Opportunity.ID,
		Marketplace:   cfg.TargetMarketplace,
		Success:       true,
		ListingID:     outcome.listingID,
		Timestamp:     time.Now(),
	}
	return &attempt, nil
}
