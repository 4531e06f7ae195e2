package model

import "time"

// ViolationKind is the closed set of integrity violations a detector may report.
type ViolationKind string

const (
	ViolationTabSwitch      ViolationKind = "TAB_SWITCH"
	ViolationFullscreenExit ViolationKind = "FULLSCREEN_EXIT"
	ViolationForbiddenKey   ViolationKind = "FORBIDDEN_KEY"
	ViolationContextMenu    ViolationKind = "CONTEXT_MENU"
	ViolationHomeButton     ViolationKind = "HOME_BUTTON"
	ViolationMultitouch     ViolationKind = "MULTITOUCH"
)

// ViolationKinds lists every kind in reporting order.
var ViolationKinds = []ViolationKind{
	ViolationTabSwitch,
	ViolationFullscreenExit,
	ViolationForbiddenKey,
	ViolationContextMenu,
	ViolationHomeButton,
	ViolationMultitouch,
}

// Label returns a short human-readable description for warning notices.
func (k ViolationKind) Label() string {
	switch k {
	case ViolationTabSwitch:
		return "Tab or window switch detected"
	case ViolationFullscreenExit:
		return "Fullscreen mode was exited"
	case ViolationForbiddenKey:
		return "A blocked keyboard shortcut was used"
	case ViolationContextMenu:
		return "Right-click is not allowed"
	case ViolationHomeButton:
		return "The exam app was left"
	case ViolationMultitouch:
		return "Multi-finger gestures are not allowed"
	default:
		return "Suspicious activity detected"
	}
}

// ViolationEvent is one entry of the append-only audit log.
type ViolationEvent struct {
	Kind      ViolationKind `json:"kind"`
	Timestamp time.Time     `json:"timestamp"`
	Detail    string        `json:"detail,omitempty"`
}
