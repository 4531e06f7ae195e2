package proctor

import (
	"regexp"
	"time"
)

// RawEventType is the closed set of platform events forwarded by the client.
type RawEventType string

const (
	RawVisibility      RawEventType = "visibility"
	RawFullscreen      RawEventType = "fullscreen"
	RawFullscreenError RawEventType = "fullscreen_error"
	RawKeydown         RawEventType = "keydown"
	RawContextMenu     RawEventType = "contextmenu"
	RawTouchStart      RawEventType = "touchstart"
)

// RawEvent is a platform event as reported by the browser, before classification.
type RawEvent struct {
	Type       RawEventType `json:"type" binding:"required,oneof=visibility fullscreen fullscreen_error keydown contextmenu touchstart"`
	Hidden     bool         `json:"hidden,omitempty"`
	Fullscreen bool         `json:"fullscreen,omitempty"`
	Key        string       `json:"key,omitempty" binding:"max=32"`
	Ctrl       bool         `json:"ctrl,omitempty"`
	Shift      bool         `json:"shift,omitempty"`
	Alt        bool         `json:"alt,omitempty"`
	Meta       bool         `json:"meta,omitempty"`
	Touches    int          `json:"touches,omitempty" binding:"min=0,max=20"`
	Target     string       `json:"target,omitempty" binding:"max=64"`
	At         time.Time    `json:"-"`
}

// ClientProfile describes the browser environment a session runs in.
type ClientProfile struct {
	UserAgent           string `json:"user_agent" binding:"max=512"`
	FullscreenSupported bool   `json:"fullscreen_supported"`
	TouchSupported      bool   `json:"touch_supported"`
}

var mobileUA = regexp.MustCompile(`(?i)android|iphone|ipad|ipod|iemobile|opera mini|mobile|blackberry|webos`)

// IsMobile reports whether the user agent looks like a phone or tablet.
func (p ClientProfile) IsMobile() bool {
	return mobileUA.MatchString(p.UserAgent)
}
