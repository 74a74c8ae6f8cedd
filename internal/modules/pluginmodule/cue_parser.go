package pluginmodule

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Manifest is the parsed plugin.cue of a plugin
type Manifest struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description,omitempty"`
	Author       string            `json:"author,omitempty"`
	Capabilities []string          `json:"capabilities"`
	URLPatterns  []string          `json:"url_patterns,omitempty"`
	EntryPoints  map[string]string `json:"entry_points,omitempty"`
	Settings     json.RawMessage   `json:"-"`

	capabilities CapabilitySet
	patterns     []*regexp.Regexp
}

// CapabilitySet returns the validated capabilities
func (m *Manifest) CapabilitySet() CapabilitySet {
	return m.capabilities
}

// MatchesURL reports whether any declared URL pattern matches url
func (m *Manifest) MatchesURL(url string) bool {
	for _, p := range m.patterns {
		if p.MatchString(url) {
			return true
		}
	}
	return false
}

// EntryPoint returns the binary name, defaulting to the plugin id
func (m *Manifest) EntryPoint() string {
	if ep := m.EntryPoints["main"]; ep != "" {
		return ep
	}
	return m.ID
}

// CUEParser parses plugin manifests
type CUEParser struct {
	ctx *cue.Context
}

// NewCUEParser creates a new CUE parser instance
func NewCUEParser() *CUEParser {
	return &CUEParser{ctx: cuecontext.New()}
}

// ParseFile reads and parses a plugin.cue file
func (p *CUEParser) ParseFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return p.Parse(path, data)
}

// Parse compiles the manifest source. The plugin block may be the #Plugin
// definition or a plain plugin field.
func (p *CUEParser) Parse(filename string, src []byte) (*Manifest, error) {
	value := p.ctx.CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("error compiling CUE manifest: %w", err)
	}

	pluginDef := value.LookupPath(cue.ParsePath("#Plugin"))
	if !pluginDef.Exists() {
		pluginDef = value.LookupPath(cue.ParsePath("plugin"))
	}
	if !pluginDef.Exists() {
		return nil, fmt.Errorf("#Plugin definition not found in %s", filename)
	}

	m := &Manifest{}
	if err := pluginDef.Decode(m); err != nil {
		return nil, fmt.Errorf("error decoding plugin manifest: %w", err)
	}

	if settings := pluginDef.LookupPath(cue.ParsePath("settings")); settings.Exists() {
		raw, err := settings.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("error encoding plugin settings: %w", err)
		}
		m.Settings = raw
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) validate() error {
	if m.ID == "" || m.Name == "" {
		return fmt.Errorf("missing required fields (id or name) in plugin manifest")
	}

	caps, err := ParseCapabilities(m.Capabilities)
	if err != nil {
		return fmt.Errorf("plugin %s: %w", m.ID, err)
	}
	m.capabilities = caps

	m.patterns = m.patterns[:0]
	for _, expr := range m.URLPatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("plugin %s: invalid url pattern %q: %w", m.ID, expr, err)
		}
		m.patterns = append(m.patterns, re)
	}

	if len(m.patterns) > 0 && !caps.Has(CapabilityURLParser) {
		return fmt.Errorf("plugin %s declares url_patterns without the %s capability", m.ID, CapabilityURLParser)
	}
	return nil
}

// NewManifest builds a validated manifest in code, for in-process modules
func NewManifest(id, name string, caps []Capability, urlPatterns ...string) (*Manifest, error) {
	m := &Manifest{ID: id, Name: name, URLPatterns: urlPatterns}
	for _, c := range caps {
		m.Capabilities = append(m.Capabilities, string(c))
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}
