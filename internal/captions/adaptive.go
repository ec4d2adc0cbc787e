package captions

// AdaptivePolicy downgrades a running session to the most conservative
// preset once its cumulative flood waits reach Threshold. It never
// upgrades back.
type AdaptivePolicy struct {
	Threshold int
	Presets   *Presets
}

// OnFlood records a flood event on s and reports the preset switched to,
// if this event triggered the downgrade.
func (a AdaptivePolicy) OnFlood(s *Session) (Preset, bool) {
	floods := s.record(false, true)
	if a.Threshold <= 0 || floods < a.Threshold || a.Presets == nil {
		return Preset{}, false
	}

	target := a.Presets.MostConservative()
	if !s.downgrade(target) {
		return Preset{}, false
	}
	return target, true
}

// OnResult records the outcome of one item.
func (a AdaptivePolicy) OnResult(s *Session, ok bool) {
	s.record(ok, false)
}
