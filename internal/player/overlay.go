package player

import "time"

// PointerActivity shows the control overlay and re-arms its auto-hide timer.
// The overlay hides only while playing with no menu open.
func (g *Guard) PointerActivity() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.controlsVisible = true
	if g.hideTimer != nil {
		g.hideTimer.Stop()
	}
	g.hideTimer = time.AfterFunc(g.opts.OverlayHide, g.autoHide)
}

// PointerLeft hides the overlay immediately when nothing needs it.
func (g *Guard) PointerLeft() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StatePlaying && !g.menuOpen {
		g.controlsVisible = false
	}
}

// SetMenuOpen records whether a settings or speed menu is open.
func (g *Guard) SetMenuOpen(open bool) {
	g.mu.Lock()
	g.menuOpen = open
	if open {
		g.controlsVisible = true
	}
	g.mu.Unlock()
}

func (g *Guard) autoHide() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	if g.state == StatePlaying && !g.menuOpen {
		g.controlsVisible = false
	}
}

func (g *Guard) flash(a Action) {
	g.mu.Lock()
	g.flashLocked(a)
	g.mu.Unlock()
}

func (g *Guard) flashLocked(a Action) {
	if g.closed {
		return
	}
	g.lastAction = a
	if g.actionTimer != nil {
		g.actionTimer.Stop()
	}
	g.actionTimer = time.AfterFunc(g.opts.ActionFlash, g.clearAction)
}

func (g *Guard) clearAction() {
	g.mu.Lock()
	if !g.closed {
		g.lastAction = ActionNone
	}
	g.mu.Unlock()
}

func (g *Guard) stopTimersLocked() {
	if g.hideTimer != nil {
		g.hideTimer.Stop()
		g.hideTimer = nil
	}
	if g.actionTimer != nil {
		g.actionTimer.Stop()
		g.actionTimer = nil
	}
}
