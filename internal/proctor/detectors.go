package proctor

import (
	"fmt"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Outcome is a detector's classification of one raw event.
type Outcome struct {
	Violation *model.ViolationEvent `json:"violation,omitempty"`
	Prevent   bool                  `json:"prevent"`
}

func (o Outcome) merge(other Outcome) Outcome {
	if o.Violation == nil {
		o.Violation = other.Violation
	}
	o.Prevent = o.Prevent || other.Prevent
	return o
}

// Detector classifies raw platform events into violations. Detectors never
// decide escalation.
type Detector interface {
	Name() string
	Attach(profile ClientProfile) error
	Detach()
	Handle(ev RawEvent) Outcome
}

func violation(kind model.ViolationKind, ev RawEvent, detail string) *model.ViolationEvent {
	return &model.ViolationEvent{Kind: kind, Timestamp: ev.At, Detail: detail}
}

// ─── Visibility ─────────────────────────────────────────────────────

// VisibilityDetector reports the page becoming hidden on desktop profiles.
// Mobile profiles are labelled by MobileGestureDetector instead.
type VisibilityDetector struct {
	attached bool
	mobile   bool
}

func (d *VisibilityDetector) Name() string { return "visibility" }

func (d *VisibilityDetector) Attach(profile ClientProfile) error {
	d.attached = true
	d.mobile = profile.IsMobile()
	return nil
}

func (d *VisibilityDetector) Detach() { d.attached = false }

func (d *VisibilityDetector) Handle(ev RawEvent) Outcome {
	if !d.attached || d.mobile || ev.Type != RawVisibility || !ev.Hidden {
		return Outcome{}
	}
	return Outcome{Violation: violation(model.ViolationTabSwitch, ev, "page hidden")}
}

// ─── Fullscreen ─────────────────────────────────────────────────────

// FullscreenDetector fires only on an observed exit from a confirmed-entered
// state. A failed entry attempt is never a violation.
type FullscreenDetector struct {
	attached  bool
	confirmed bool
}

func (d *FullscreenDetector) Name() string { return "fullscreen" }

func (d *FullscreenDetector) Attach(profile ClientProfile) error {
	if !profile.FullscreenSupported {
		return ErrFullscreenUnsupported
	}
	d.attached = true
	return nil
}

func (d *FullscreenDetector) Detach() {
	d.attached = false
	d.confirmed = false
}

func (d *FullscreenDetector) Handle(ev RawEvent) Outcome {
	if !d.attached || ev.Type != RawFullscreen {
		return Outcome{}
	}
	if ev.Fullscreen {
		d.confirmed = true
		return Outcome{}
	}
	if !d.confirmed {
		return Outcome{}
	}
	d.confirmed = false
	return Outcome{Violation: violation(model.ViolationFullscreenExit, ev, "fullscreen exited")}
}

// ─── Keyboard ───────────────────────────────────────────────────────

// KeyCombo is one blocklisted key, optionally with modifiers. Mod matches
// either Ctrl or Meta so Cmd shortcuts on macOS are covered.
type KeyCombo struct {
	Key   string `json:"key"`
	Mod   bool   `json:"mod,omitempty"`
	Shift bool   `json:"shift,omitempty"`
	Alt   bool   `json:"alt,omitempty"`
}

func (k KeyCombo) String() string {
	var parts []string
	if k.Mod {
		parts = append(parts, "Mod")
	}
	if k.Alt {
		parts = append(parts, "Alt")
	}
	if k.Shift {
		parts = append(parts, "Shift")
	}
	return strings.Join(append(parts, k.Key), "+")
}

var keyBlocklist = []KeyCombo{
	// devtools
	{Key: "F12"},
	{Key: "I", Mod: true, Shift: true},
	{Key: "J", Mod: true, Shift: true},
	{Key: "C", Mod: true, Shift: true},
	{Key: "K", Mod: true, Shift: true},
	{Key: "I", Mod: true, Alt: true},
	{Key: "J", Mod: true, Alt: true},
	{Key: "U", Mod: true},
	// save, print, clipboard, selection, search
	{Key: "S", Mod: true},
	{Key: "S", Mod: true, Shift: true},
	{Key: "P", Mod: true},
	{Key: "P", Mod: true, Shift: true},
	{Key: "C", Mod: true},
	{Key: "X", Mod: true},
	{Key: "V", Mod: true},
	{Key: "A", Mod: true},
	{Key: "F", Mod: true},
	{Key: "G", Mod: true},
	{Key: "F3"},
	{Key: "PrintScreen"},
	// navigation accelerators
	{Key: "F5"},
	{Key: "R", Mod: true},
	{Key: "R", Mod: true, Shift: true},
	{Key: "ArrowLeft", Alt: true},
	{Key: "ArrowRight", Alt: true},
	{Key: "T", Mod: true},
	{Key: "N", Mod: true},
	{Key: "W", Mod: true},
	{Key: "Tab", Alt: true},
}

// KeyBlocklist returns a copy of the forbidden key combinations.
func KeyBlocklist() []KeyCombo {
	out := make([]KeyCombo, len(keyBlocklist))
	copy(out, keyBlocklist)
	return out
}

// matchKey finds the blocklist entry for a keydown. An entry matches when
// every modifier it names is held, so extra modifiers never unblock a key;
// an exact match is preferred over a looser one.
func matchKey(ev RawEvent) (KeyCombo, bool) {
	key := ev.Key
	if len(key) == 1 {
		key = strings.ToUpper(key)
	}
	mod := ev.Ctrl || ev.Meta

	var (
		loose KeyCombo
		found bool
	)
	for _, combo := range keyBlocklist {
		if !strings.EqualFold(combo.Key, key) {
			continue
		}
		if (combo.Mod && !mod) || (combo.Shift && !ev.Shift) || (combo.Alt && !ev.Alt) {
			continue
		}
		if combo.Mod == mod && combo.Shift == ev.Shift && combo.Alt == ev.Alt {
			return combo, true
		}
		if !found {
			loose, found = combo, true
		}
	}
	return loose, found
}

// KeyboardDetector reports blocklisted keys. A match is always prevented,
// whether or not it is escalated.
type KeyboardDetector struct {
	attached bool
}

func (d *KeyboardDetector) Name() string { return "keyboard" }

func (d *KeyboardDetector) Attach(ClientProfile) error {
	d.attached = true
	return nil
}

func (d *KeyboardDetector) Detach() { d.attached = false }

func (d *KeyboardDetector) Handle(ev RawEvent) Outcome {
	if ev.Type != RawKeydown {
		return Outcome{}
	}
	combo, ok := matchKey(ev)
	if !ok {
		return Outcome{}
	}
	if !d.attached {
		return Outcome{Prevent: true}
	}
	return Outcome{
		Violation: violation(model.ViolationForbiddenKey, ev, fmt.Sprintf("key %s", combo)),
		Prevent:   true,
	}
}

// ─── Context menu ───────────────────────────────────────────────────

// ContextMenuDetector reports every right-click on the session surface.
type ContextMenuDetector struct {
	attached bool
}

func (d *ContextMenuDetector) Name() string { return "context_menu" }

func (d *ContextMenuDetector) Attach(ClientProfile) error {
	d.attached = true
	return nil
}

func (d *ContextMenuDetector) Detach() { d.attached = false }

func (d *ContextMenuDetector) Handle(ev RawEvent) Outcome {
	if ev.Type != RawContextMenu {
		return Outcome{}
	}
	if !d.attached {
		return Outcome{Prevent: true}
	}
	detail := "right-click"
	if ev.Target != "" {
		detail = "right-click on " + ev.Target
	}
	return Outcome{Violation: violation(model.ViolationContextMenu, ev, detail), Prevent: true}
}

// ─── Mobile gestures ────────────────────────────────────────────────

// MobileGestureDetector reports multi-touch starts on any profile and app
// switches on mobile profiles.
type MobileGestureDetector struct {
	attached bool
	mobile   bool
}

func (d *MobileGestureDetector) Name() string { return "mobile_gesture" }

func (d *MobileGestureDetector) Attach(profile ClientProfile) error {
	d.attached = true
	d.mobile = profile.IsMobile()
	return nil
}

func (d *MobileGestureDetector) Detach() { d.attached = false }

func (d *MobileGestureDetector) Handle(ev RawEvent) Outcome {
	if !d.attached {
		return Outcome{}
	}
	switch ev.Type {
	case RawTouchStart:
		if ev.Touches > 1 {
			return Outcome{
				Violation: violation(model.ViolationMultitouch, ev, fmt.Sprintf("%d touch points", ev.Touches)),
				Prevent:   true,
			}
		}
	case RawVisibility:
		if d.mobile && ev.Hidden {
			return Outcome{Violation: violation(model.ViolationHomeButton, ev, "app hidden")}
		}
	}
	return Outcome{}
}

// DefaultDetectors returns one fresh instance of every detector.
func DefaultDetectors() []Detector {
	return []Detector{
		&VisibilityDetector{},
		&FullscreenDetector{},
		&KeyboardDetector{},
		&ContextMenuDetector{},
		&MobileGestureDetector{},
	}
}
