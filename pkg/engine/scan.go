package engine

import (
	"context"

	"Toyol/pkg/criteria"
	"Toyol/pkg/types"
	"Toyol/pkg/uitree"
)

// scan applies the screen priority list to one tree and issues at most one action
func (e *Engine) scan(ctx context.Context, root uitree.Element) {
	if !e.active() || root == nil {
		return
	}
	cfg := e.config.Snapshot()
	p := e.platform
	filterCtx, cancel := context.WithTimeout(ctx, e.timings.FilterBudget)
	defer cancel()

	// 1. Booking confirmed ends the session
	if p.FindByText(root, MarkerBookingConfirmed) != nil {
		e.lastScreen = ScreenBookingConfirmed
		e.pending = nil
		e.log.Info().Msg("Booking is confirmed, stopping service")
		e.record(EventBookingConfirmed, "", "")
		p.PlayConfirmation(ctx)
		e.config.SetEnabled(false)
		if closeBtn := p.FindByText(root, MarkerClose); closeBtn != nil {
			e.click(ctx, closeBtn, MarkerClose)
		}
		e.stopSession("booking confirmed")
		return
	}

	// 2. Confirmation popup
	if confirm := p.FindByText(root, MarkerConfirm); confirm != nil {
		e.lastScreen = ScreenConfirm
		e.log.Info().Msg("Confirm button found, clicking it")
		e.record(EventConfirmClicked, "", "")
		e.click(ctx, confirm, MarkerConfirm)
		return
	}

	// 3. Accept screen for the job clicked earlier
	if accept := p.FindByText(root, MarkerAccept); accept != nil && e.pending != nil {
		e.lastScreen = ScreenAccept
		text := *e.pending
		e.pending = nil
		if e.accepts(filterCtx, text, cfg) {
			e.log.Info().Msg("Verification succeeded, clicking Accept")
			e.record(EventJobAccepted, text, "")
			e.click(ctx, accept, MarkerAccept)
			return
		}
		e.log.Info().Msg("Verification failed, going back")
		e.record(EventJobRejected, text, "verification failed")
		e.runRecovery(ctx, root, false)
		return
	}

	// 4. Known error texts
	for _, marker := range ErrorMarkers {
		if p.FindByText(root, marker) != nil {
			e.lastScreen = ScreenError
			e.pending = nil
			e.log.Info().Str("marker", marker).Msg("Error screen found, going back")
			e.record(EventErrorScreen, "", marker)
			e.runRecovery(ctx, root, false)
			return
		}
	}

	// 5. Planner: click the first acceptable job
	if p.FindByText(root, MarkerPlanner) != nil {
		e.lastScreen = ScreenPlanner
		e.recovery.stop()
		e.pending = nil
		for _, candidate := range p.FindAllByID(root, CandidateID) {
			ex := uitree.Extract(candidate, uitree.DefaultLimits)
			if ex.Stale > 0 {
				e.log.Debug().Int("stale", ex.Stale).Msg("Skipped stale nodes while reading candidate")
			}
			text := ex.Joined()
			if !e.accepts(filterCtx, text, cfg) {
				continue
			}
			e.pending = &text
			e.log.Info().Str("job", text).Msg("Matching job found, clicking it")
			e.record(EventJobClicked, text, "")
			e.click(ctx, candidate, "candidate")
			return
		}
		return
	}

	// 6. Unrecognized screen
	e.lastScreen = ScreenUnknown
	e.ensureRecoveryTimeout()
}

// accepts runs the built-in criteria and then the optional filter
func (e *Engine) accepts(ctx context.Context, text string, cfg types.Configuration) bool {
	decision := criteria.Evaluate(text, cfg)
	if !decision.Accepted {
		e.log.Debug().Str("reason", decision.Reason).Str("category", decision.Category).Msg("Job rejected")
		return false
	}
	if e.filter == nil {
		return true
	}
	if ctx.Err() != nil {
		e.log.Warn().Str("category", decision.Category).Msg("Filter budget for this scan is spent, rejecting job")
		return false
	}
	ok, err := e.filter.Accept(ctx, criteria.Parse(text, cfg))
	if err != nil {
		e.log.Warn().Err(err).Msg("Job filter failed, rejecting job")
		return false
	}
	if !ok {
		e.log.Debug().Str("category", decision.Category).Msg("Job rejected by filter")
	}
	return ok
}
