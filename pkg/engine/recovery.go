package engine

import (
	"context"
	"strings"

	"Toyol/pkg/uitree"
)

// runRecovery tries to leave the current screen: Cancel, then the toolbar back
// icon, then the platform back action. A nil root is fetched from the platform.
func (e *Engine) runRecovery(ctx context.Context, root uitree.Element, isTimeout bool) {
	e.pending = nil
	if isTimeout {
		e.forceRefresh = true
	}

	if root == nil {
		r, err := e.platform.Root(ctx)
		if err != nil {
			e.log.Warn().Err(err).Msg("Recovery could not read the screen")
		} else {
			root = r
		}
	}

	var cancelBtn, backBtn uitree.Element
	if root != nil {
		cancelBtn = e.platform.FindByText(root, MarkerCancel)
		if cancelBtn == nil {
			backBtn = e.backIcon(root)
		}
	}

	action := "navigate_back"
	switch {
	case cancelBtn != nil:
		action = "cancel"
		e.click(ctx, cancelBtn, MarkerCancel)
	case backBtn != nil:
		action = "back_icon"
		e.click(ctx, backBtn, BackIconID)
	default:
		if err := e.platform.NavigateBack(ctx); err != nil {
			e.log.Warn().Err(err).Msg("Navigate back failed")
		}
	}

	e.log.Info().Str("action", action).Bool("timeout", isTimeout).Msg("Recovery")
	detail := action
	if isTimeout {
		detail += " (timeout)"
	}
	e.record(EventRecovery, "", detail)
}

func (e *Engine) backIcon(root uitree.Element) uitree.Element {
	for _, el := range e.platform.FindAllByID(root, BackIconID) {
		if strings.Contains(el.Description(), BackDescription) {
			return el
		}
	}
	return nil
}

// ensureRecoveryTimeout arms the recovery timeout unless one is already live
func (e *Engine) ensureRecoveryTimeout() {
	if e.recovery.active() || e.sessionCtx == nil {
		return
	}
	e.restartRecoveryTimeout()
}

// restartRecoveryTimeout replaces any live recovery timeout with a fresh one
func (e *Engine) restartRecoveryTimeout() {
	if e.sessionCtx == nil {
		return
	}
	e.recovery.start(e.sessionCtx, func(ctx context.Context, gen uint64) {
		if !sleep(ctx, e.timings.RecoveryTimeout) {
			return
		}
		e.post(ctx, func(ctx context.Context) {
			if !e.recovery.owns(gen) {
				return
			}
			e.recovery.stop()
			if !e.active() {
				return
			}
			e.log.Info().Dur("after", e.timings.RecoveryTimeout).Msg("Planner not seen, recovering")
			e.record(EventRecoveryTimeout, "", "")
			e.runRecovery(e.sessionCtx, nil, true)
		})
	})
}
