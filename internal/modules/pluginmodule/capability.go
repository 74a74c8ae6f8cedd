package pluginmodule

import (
	"fmt"
	"sort"
)

// Capability declares a protocol a plugin implements
type Capability string

const (
	CapabilityProvider     Capability = "provider"
	CapabilityURLParser    Capability = "url_parser"
	CapabilityVideoConvert Capability = "video_convert"
	CapabilityOAuth        Capability = "oauth"
	CapabilityLookup       Capability = "lookup"
)

var knownCapabilities = map[Capability]struct{}{
	CapabilityProvider:     {},
	CapabilityURLParser:    {},
	CapabilityVideoConvert: {},
	CapabilityOAuth:        {},
	CapabilityLookup:       {},
}

// ParseCapability validates s against the closed set
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if _, ok := knownCapabilities[c]; !ok {
		return "", fmt.Errorf("unknown capability %q", s)
	}
	return c, nil
}

// CapabilitySet is the set of capabilities a module declares
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given capabilities
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// ParseCapabilities builds a set from strings, rejecting unknown values
func ParseCapabilities(values []string) (CapabilitySet, error) {
	s := make(CapabilitySet, len(values))
	for _, v := range values {
		c, err := ParseCapability(v)
		if err != nil {
			return nil, err
		}
		s[c] = struct{}{}
	}
	return s, nil
}

// Has reports whether c is declared
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Strings returns the sorted capability names
func (s CapabilitySet) Strings() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}
