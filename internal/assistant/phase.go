package assistant

// Phase is the single mutual-exclusion state of the assistant. At most one
// of listening and processing is ever held, never both.
type Phase int32

const (
	// PhaseIdle means no capture or command is in flight
	PhaseIdle Phase = iota

	// PhaseListening means a listen call occupies the audio path
	PhaseListening

	// PhaseProcessing means a command worker owns the completion round-trip
	PhaseProcessing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseProcessing:
		return "processing"
	default:
		return "unknown"
	}
}
