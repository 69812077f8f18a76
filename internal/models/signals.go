package models

import (
	"regexp"
	"strconv"
	"strings"
)

// hexDigestPattern matches the fixed-length hex digests produced by the
// client-side collectors. Hash-typed fingerprint fields must either be
// empty or match this shape; anything else is treated as a spoofing
// signal by the risk engine, never silently accepted.
var hexDigestPattern = regexp.MustCompile(`^[0-9a-f]{16,64}$`)

// DeviceFingerprint is the per-attempt device signal produced by the
// browser-side collector. It is a value object: it exists for the
// duration of one vote attempt and is never persisted verbatim; only
// the composite hash derived from it enters the TTL store.
type DeviceFingerprint struct {
	UserAgent           string `json:"user_agent"`
	ScreenResolution    string `json:"screen_resolution"`
	TimezoneOffset      int    `json:"timezone_offset"`
	Language            string `json:"language"`
	Platform            string `json:"platform"`
	CanvasHash          string `json:"canvas_hash,omitempty"`
	AudioHash           string `json:"audio_hash,omitempty"`
	WebGLHash           string `json:"webgl_hash,omitempty"`
	PluginsHash         string `json:"plugins_hash,omitempty"`
	HardwareConcurrency int    `json:"hardware_concurrency"`
	DeviceMemoryGB      int    `json:"device_memory_gb"`
	TouchCapable        bool   `json:"touch_capable"`
}

// Finding names a malformed or implausible signal field. Findings feed
// the risk engine as risk-elevating inputs; they are never surfaced to
// the client so bots learn nothing about which fields are checked.
type Finding struct {
	Field  string
	Reason string
}

// Validate reports malformed fields. A nil result means every present
// field has a plausible shape, not that the fingerprint is trustworthy.
func (fp *DeviceFingerprint) Validate() []Finding {
	var findings []Finding

	if strings.TrimSpace(fp.UserAgent) == "" {
		findings = append(findings, Finding{Field: "user_agent", Reason: "missing"})
	}
	if fp.ScreenResolution != "" && !screenResolutionPattern.MatchString(fp.ScreenResolution) {
		findings = append(findings, Finding{Field: "screen_resolution", Reason: "malformed"})
	}
	if fp.TimezoneOffset < -840 || fp.TimezoneOffset > 720 {
		findings = append(findings, Finding{Field: "timezone_offset", Reason: "out_of_range"})
	}
	if fp.HardwareConcurrency < 0 {
		findings = append(findings, Finding{Field: "hardware_concurrency", Reason: "negative"})
	}
	if fp.DeviceMemoryGB < 0 {
		findings = append(findings, Finding{Field: "device_memory_gb", Reason: "negative"})
	}

	for _, h := range []struct{ field, value string }{
		{"canvas_hash", fp.CanvasHash},
		{"audio_hash", fp.AudioHash},
		{"webgl_hash", fp.WebGLHash},
		{"plugins_hash", fp.PluginsHash},
	} {
		if h.value != "" && !hexDigestPattern.MatchString(h.value) {
			findings = append(findings, Finding{Field: h.field, Reason: "not_hex_digest"})
		}
	}

	return findings
}

var screenResolutionPattern = regexp.MustCompile(`^\d{2,5}x\d{2,5}$`)

// CanonicalString flattens the fingerprint into the stable form the
// composite identity hash is computed over. Field order is part of the
// dedup contract; changing it invalidates every live vote_check entry.
func (fp *DeviceFingerprint) CanonicalString() string {
	parts := []string{
		fp.UserAgent,
		fp.ScreenResolution,
		strconv.Itoa(fp.TimezoneOffset),
		fp.Language,
		fp.Platform,
		fp.CanvasHash,
		fp.AudioHash,
		fp.WebGLHash,
		fp.PluginsHash,
		strconv.Itoa(fp.HardwareConcurrency),
		strconv.Itoa(fp.DeviceMemoryGB),
		boolStr(fp.TouchCapable),
	}
	return strings.Join(parts, "|")
}

// BehavioralSignals captures timing and interaction counts for one
// poll-viewing session. Produced fresh per attempt by the client-side
// tracker; a tracker handle is constructed per attempt, never shared
// across requests.
type BehavioralSignals struct {
	PageLoadToVoteMs int64 `json:"page_load_to_vote_ms"`
	TimeOnPollMs     int64 `json:"time_on_poll_ms"`
	MouseMoves       int   `json:"mouse_moves"`
	Clicks           int   `json:"clicks"`
	Scrolls          int   `json:"scrolls"`
	ChangedChoice    bool  `json:"changed_choice"`
	ViewedResults    bool  `json:"viewed_results"`
	TouchDevice      bool  `json:"touch_device"`
	JSExecutionMs    int64 `json:"js_execution_ms"`
}

// Validate reports negative counts and durations.
func (b *BehavioralSignals) Validate() []Finding {
	var findings []Finding

	durations := []struct {
		field string
		value int64
	}{
		{"page_load_to_vote_ms", b.PageLoadToVoteMs},
		{"time_on_poll_ms", b.TimeOnPollMs},
		{"js_execution_ms", b.JSExecutionMs},
	}
	for _, d := range durations {
		if d.value < 0 {
			findings = append(findings, Finding{Field: d.field, Reason: "negative"})
		}
	}

	counts := []struct {
		field string
		value int
	}{
		{"mouse_moves", b.MouseMoves},
		{"clicks", b.Clicks},
		{"scrolls", b.Scrolls},
	}
	for _, c := range counts {
		if c.value < 0 {
			findings = append(findings, Finding{Field: c.field, Reason: "negative"})
		}
	}

	return findings
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
