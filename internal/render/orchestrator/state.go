package orchestrator

// State is a step of one render session.
type State int

const (
	StateIdle State = iota
	StateTabCreating
	StateChannelOpening
	StateContentSetting
	StateContentAcked
	StatePrinting
	StatePrintAcked
	StateCleanup
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTabCreating:
		return "tab_creating"
	case StateChannelOpening:
		return "channel_opening"
	case StateContentSetting:
		return "content_setting"
	case StateContentAcked:
		return "content_acked"
	case StatePrinting:
		return "printing"
	case StatePrintAcked:
		return "print_acked"
	case StateCleanup:
		return "cleanup"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
