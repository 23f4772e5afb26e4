// Package models describes the model catalog: base upstream models, the
// stream-mode prefixes, and the virtual feature suffixes. Inbound model names
// are parsed exactly once, here; downstream layers consume the Variant.
package models

import "strings"

// Stream-mode prefixes recognized on inbound model names.
const (
	prefixFakeStream = "假流式/"
	prefixAntiTrunc  = "流式抗截断/"
)

// StreamMode selects how a streaming request is served.
type StreamMode int

const (
	// StreamPassthrough relays upstream SSE frames as they arrive.
	StreamPassthrough StreamMode = iota
	// StreamFake calls upstream unary and chunks the result into SSE.
	StreamFake
	// StreamAntiTrunc buffers passthrough frames and re-emits the tail on
	// truncated upstream disconnects.
	StreamAntiTrunc
)

// ThinkingMode maps the -maxthinking/-nothinking suffixes.
type ThinkingMode int

const (
	ThinkingAuto ThinkingMode = iota
	ThinkingMax
	ThinkingNone
)

// Group buckets models for cooldown and no-credential quota purposes.
type Group string

const (
	GroupFlash Group = "flash"
	GroupPro   Group = "pro"
	Group30    Group = "30"
)

// Column returns the credential timestamp column tracking this group.
func (g Group) Column() string {
	switch g {
	case GroupPro:
		return "last_used_pro"
	case Group30:
		return "last_used_30"
	default:
		return "last_used_flash"
	}
}

// Variant is a fully parsed inbound model name.
type Variant struct {
	Base     string
	Mode     StreamMode
	Thinking ThinkingMode
	Search   bool
}

// Parse splits an inbound model name into its base model, stream mode, and
// feature suffixes. Prefix order is fixed: a mode prefix, then suffixes.
func Parse(name string) Variant {
	v := Variant{}

	switch {
	case strings.HasPrefix(name, prefixFakeStream):
		v.Mode = StreamFake
		name = strings.TrimPrefix(name, prefixFakeStream)
	case strings.HasPrefix(name, prefixAntiTrunc):
		v.Mode = StreamAntiTrunc
		name = strings.TrimPrefix(name, prefixAntiTrunc)
	}

	// Suffixes compose as base-thinking-search, so -search comes off first.
	if strings.HasSuffix(name, "-search") {
		v.Search = true
		name = strings.TrimSuffix(name, "-search")
	}

	switch {
	case strings.HasSuffix(name, "-maxthinking"):
		v.Thinking = ThinkingMax
		name = strings.TrimSuffix(name, "-maxthinking")
	case strings.HasSuffix(name, "-nothinking"):
		v.Thinking = ThinkingNone
		name = strings.TrimSuffix(name, "-nothinking")
	}

	v.Base = name
	return v
}

// String reassembles the variant into its catalog name.
func (v Variant) String() string {
	name := v.Base
	switch v.Thinking {
	case ThinkingMax:
		name += "-maxthinking"
	case ThinkingNone:
		name += "-nothinking"
	}
	if v.Search {
		name += "-search"
	}
	switch v.Mode {
	case StreamFake:
		name = prefixFakeStream + name
	case StreamAntiTrunc:
		name = prefixAntiTrunc + name
	}
	return name
}

// RequiredTier returns "3" for Gemini-3 models, otherwise "2.5". A tier-2.5
// request accepts credentials of either tier; tier-3 requires tier-3.
func (v Variant) RequiredTier() string {
	if strings.HasPrefix(v.Base, "gemini-3-") || v.Base == "gemini-3" {
		return "3"
	}
	return "2.5"
}

// Group classifies the base model: Gemini-3 models form their own group,
// anything else containing "pro" is pro, the rest is flash.
func (v Variant) Group() Group {
	if v.RequiredTier() == "3" {
		return Group30
	}
	if strings.Contains(v.Base, "pro") {
		return GroupPro
	}
	return GroupFlash
}
