package pmcp

import "strings"

// ProtocolVersion is a date-like version string, e.g. "2025-06-18".
type ProtocolVersion string

// LatestVersion and DefaultVersion name the newest and the fallback
// versions this engine will propose during negotiation.
const (
	LatestVersion  ProtocolVersion = "2025-06-18"
	DefaultVersion ProtocolVersion = "2024-11-05"
)

// SupportedVersions is the ordered (newest first) set of protocol versions
// this engine understands.
var SupportedVersions = []ProtocolVersion{
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
	"2024-10-07",
}

// NegotiateVersion picks the highest version in SupportedVersions that is
// also <= preferred in the SUPPORTED ordering (i.e. the server's highest
// version not newer than what the client asked for). It reports ok=false
// if no mutually acceptable version exists.
func NegotiateVersion(preferred ProtocolVersion, supported []ProtocolVersion) (ProtocolVersion, bool) {
	for _, v := range supported {
		if v == preferred {
			return v, true
		}
	}
	// Fall back to the first version in supported that sorts no later than
	// preferred, using lexicographic order (dates sort correctly this way).
	for _, v := range supported {
		if string(v) <= string(preferred) {
			return v, true
		}
	}
	return "", false
}

// ResourceCapability advertises optional resource sub-features.
type ResourceCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// ListChangedCapability advertises a bare "supports list_changed" feature,
// used by tools, prompts, and roots.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities is the capability block a server advertises at
// initialize time.
type ServerCapabilities struct {
	Tools        *ListChangedCapability `json:"tools,omitempty"`
	Prompts      *ListChangedCapability `json:"prompts,omitempty"`
	Resources    *ResourceCapability    `json:"resources,omitempty"`
	Sampling     map[string]any         `json:"sampling,omitempty"`
	Logging      map[string]any         `json:"logging,omitempty"`
	Completion   map[string]any         `json:"completions,omitempty"`
	Experimental map[string]any         `json:"experimental,omitempty"`
}

// ClientCapabilities is the capability block a client advertises at
// initialize time.
type ClientCapabilities struct {
	Roots        *ListChangedCapability `json:"roots,omitempty"`
	Sampling     map[string]any         `json:"sampling,omitempty"`
	Elicitation  map[string]any         `json:"elicitation,omitempty"`
	Experimental map[string]any         `json:"experimental,omitempty"`
}

// methodFamily returns the leading namespace of a method name, e.g.
// "tools/call" -> "tools", "resources/subscribe" -> "resources/subscribe"
// (subscribe is gated separately, see capability table below).
func methodFamily(method string) string {
	if method == "resources/subscribe" {
		return "resources/subscribe"
	}
	if i := strings.IndexByte(method, '/'); i >= 0 {
		return method[:i]
	}
	return method
}

// capabilityRequirement names which capability block and field a method
// family requires on the PEER side before it may be sent, when strict
// capability gating is enabled. Grounded on the §4.3 table.
type capabilityRequirement struct {
	onClient bool // true if the requirement is checked against ClientCapabilities
	check    func(sc *ServerCapabilities, cc *ClientCapabilities) bool
}

var capabilityTable = map[string]capabilityRequirement{
	"tools": {check: func(sc *ServerCapabilities, _ *ClientCapabilities) bool {
		return sc != nil && sc.Tools != nil
	}},
	"prompts": {check: func(sc *ServerCapabilities, _ *ClientCapabilities) bool {
		return sc != nil && sc.Prompts != nil
	}},
	"resources": {check: func(sc *ServerCapabilities, _ *ClientCapabilities) bool {
		return sc != nil && sc.Resources != nil
	}},
	"resources/subscribe": {check: func(sc *ServerCapabilities, _ *ClientCapabilities) bool {
		return sc != nil && sc.Resources != nil && sc.Resources.Subscribe
	}},
	"sampling": {onClient: true, check: func(_ *ServerCapabilities, cc *ClientCapabilities) bool {
		return cc != nil && cc.Sampling != nil
	}},
	"logging": {check: func(sc *ServerCapabilities, _ *ClientCapabilities) bool {
		return sc != nil && sc.Logging != nil
	}},
	"roots": {onClient: true, check: func(_ *ServerCapabilities, cc *ClientCapabilities) bool {
		return cc != nil && cc.Roots != nil
	}},
	"elicitation": {onClient: true, check: func(_ *ServerCapabilities, cc *ClientCapabilities) bool {
		return cc != nil && cc.Elicitation != nil
	}},
}

// checkCapability reports whether method is permitted given the peer's
// advertised server/client capability blocks (whichever side is relevant is
// non-nil; the other may be left nil by the caller). A method family with no
// entry in capabilityTable is always permitted (it names no gated feature).
func checkCapability(method string, sc *ServerCapabilities, cc *ClientCapabilities) bool {
	req, ok := capabilityTable[methodFamily(method)]
	if !ok {
		return true
	}
	return req.check(sc, cc)
}
