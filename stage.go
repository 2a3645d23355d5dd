package varietyd

// Stage is a position in the per-capability acquisition state machine.
//
// The machine runs Detected → Discovering → Installing → Spawning →
// Handshaking → Registered, or terminates at Failed from any stage.
// Registered and Failed are terminal.
type Stage string

const (
	StageDetected    Stage = "detected"
	StageDiscovering Stage = "discovering"
	StageInstalling  Stage = "installing"
	StageSpawning    Stage = "spawning"
	StageHandshaking Stage = "handshaking"
	StageRegistered  Stage = "registered"
	StageFailed      Stage = "failed"
)

// Terminal reports whether the stage ends the state machine.
func (s Stage) Terminal() bool {
	return s == StageRegistered || s == StageFailed
}
