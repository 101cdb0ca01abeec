package player

// Key is a keyboard code as reported by the host page.
type Key string

const (
	KeySpace      Key = "Space"
	KeyArrowRight Key = "ArrowRight"
	KeyArrowLeft  Key = "ArrowLeft"
	KeyArrowUp    Key = "ArrowUp"
	KeyArrowDown  Key = "ArrowDown"
	KeyF          Key = "KeyF"
	KeyM          Key = "KeyM"
)

// HandleKey maps a key press to a control. Nothing fires while a text input
// has focus. It reports whether the key was consumed, so the caller can
// suppress the default browser action.
func (g *Guard) HandleKey(k Key, textInputFocused bool) bool {
	if textInputFocused {
		return false
	}

	switch k {
	case KeySpace:
		g.TogglePlay()
	case KeyArrowRight:
		g.seekKey(g.opts.SeekStep, ActionForward)
	case KeyArrowLeft:
		g.seekKey(-g.opts.SeekStep, ActionBackward)
	case KeyArrowUp:
		g.AdjustVolume(g.opts.VolumeStep)
	case KeyArrowDown:
		g.AdjustVolume(-g.opts.VolumeStep)
	case KeyF:
		g.ToggleFullscreen()
	case KeyM:
		g.ToggleMute()
	default:
		return false
	}
	return true
}

func (g *Guard) seekKey(delta float64, a Action) {
	g.mu.Lock()
	target := g.position + delta
	g.mu.Unlock()

	g.seek(target, SourceKeyboard)
	g.flash(a)
}
