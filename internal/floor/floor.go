// Package floor decides who holds the audio floor: the agent while an
// utterance plays, the user otherwise.
package floor

// Decision represents the action the floor manager wants to take.
type Decision struct {
	ShouldStop      bool
	StopUtteranceID string
	Reason          string // "barge_in"
	// Suppressed is set when the user spoke over a non-interruptible utterance.
	Suppressed bool
}

const (
	ReasonBargeIn          = "barge_in"
	ReasonNonInterruptible = "non_interruptible"
)

type Manager struct {
	speaking           bool
	interruptible      bool
	activeUtteranceID  string
	lastVADStartTsMs   int64
	lastTTSStartedTsMs int64
}

func New() *Manager { return &Manager{} }

func (m *Manager) OnTTSStarted(utteranceID string, interruptible bool, tsMs int64) Decision {
	m.speaking = true
	m.interruptible = interruptible
	m.activeUtteranceID = utteranceID
	m.lastTTSStartedTsMs = tsMs
	return Decision{}
}

func (m *Manager) OnTTSStopped(utteranceID string, tsMs int64, reason string) Decision {
	// A stale stop for an older utterance must not clear the current one.
	if utteranceID != "" && m.activeUtteranceID != "" && utteranceID != m.activeUtteranceID {
		return Decision{}
	}
	m.speaking = false
	m.interruptible = false
	m.activeUtteranceID = ""
	return Decision{}
}

func (m *Manager) OnVADStart(tsMs int64) Decision {
	m.lastVADStartTsMs = tsMs
	if !m.speaking {
		return Decision{}
	}
	if !m.interruptible {
		return Decision{Suppressed: true, StopUtteranceID: m.activeUtteranceID, Reason: ReasonNonInterruptible}
	}
	return Decision{ShouldStop: true, StopUtteranceID: m.activeUtteranceID, Reason: ReasonBargeIn}
}

func (m *Manager) OnVADEnd(tsMs int64) Decision {
	return Decision{}
}

func (m *Manager) Speaking() (utteranceID string, ok bool) {
	return m.activeUtteranceID, m.speaking
}
