package pmcp

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// ContentBlock is one element of a tool result or prompt message, per MCP's
// {type:"text"|"image"|..., ...} content union.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"` // base64, for type=="image"
	MimeType string `json:"mimeType,omitempty"`
}

// TextContent is a convenience constructor for the common text case.
func TextContent(text string) ContentBlock { return ContentBlock{Type: "text", Text: text} }

// ToolResult is the result of a tools/call invocation.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ToolHandler implements one tool. Returning a non-nil error with no
// *Error wrapping surfaces the error as a domain error
// (result.isError=true, per spec.md §4.4), not a JSON-RPC error; returning
// an *Error with code InvalidParams surfaces as a structural failure.
type ToolHandler func(ctx context.Context, arguments json.RawMessage) (*ToolResult, error)

// Tool describes one registered tool.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     ToolHandler
}

// Message is one entry of a rendered prompt.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// PromptHandler renders a prompt given its arguments.
type PromptHandler func(ctx context.Context, arguments map[string]string) ([]Message, error)

// Prompt describes one registered prompt template.
type Prompt struct {
	Name        string
	Description string
	Handler     PromptHandler
}

// ResourceContents is the body of a resources/read reply.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"` // base64
}

// ResourceHandler reads the current contents of a resource by URI.
type ResourceHandler func(ctx context.Context, uri string) (*ResourceContents, error)

// Resource describes one registered resource (or resource template, if URI
// contains an RFC 6570 template pattern).
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	Handler     ResourceHandler
}

// CompletionValues is the result of a completion/complete call.
type CompletionValues struct {
	Values  []string `json:"values"`
	Total   *int     `json:"total,omitempty"`
	HasMore bool     `json:"hasMore,omitempty"`
}

// CompletionProvider supplies argument completions for a prompt or resource
// reference.
type CompletionProvider func(ctx context.Context, ref, argName, argValue string) (*CompletionValues, error)

// registries holds the read-mostly, copy-on-write method tables a Server
// dispatches into, per spec.md §4.4/§5. Each map is replaced wholesale on
// mutation so an in-flight dispatch always sees a consistent snapshot taken
// at lookup time, without holding a lock across a handler call.
type registries struct {
	mu          sync.Mutex // unused: each atomicMap below has its own lock
	tools       atomicMap[Tool]
	prompts     atomicMap[Prompt]
	resources   atomicMap[Resource]
	roots       atomicMap[Resource] // client-side roots, reuses Resource's {URI,Name}
	completions atomicMap[CompletionProvider]

	onToolsChanged     func()
	onPromptsChanged    func()
	onResourcesChanged  func()
}

func newRegistries() *registries {
	r := &registries{}
	r.tools.store(map[string]Tool{})
	r.prompts.store(map[string]Prompt{})
	r.resources.store(map[string]Resource{})
	r.roots.store(map[string]Resource{})
	r.completions.store(map[string]CompletionProvider{})
	return r
}

// atomicMap is a snapshot-pointer read-mostly map: writers build a fresh
// map and swap the pointer; readers dereference the pointer once.
type atomicMap[V any] struct {
	mu sync.Mutex
	m  map[string]V
}

func (a *atomicMap[V]) store(m map[string]V) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m = m
}

func (a *atomicMap[V]) snapshot() map[string]V {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.m
}

func (a *atomicMap[V]) get(key string) (V, bool) {
	m := a.snapshot()
	v, ok := m[key]
	return v, ok
}

func (a *atomicMap[V]) set(key string, v V) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := make(map[string]V, len(a.m)+1)
	for k, existing := range a.m {
		next[k] = existing
	}
	next[key] = v
	a.m = next
}

func (a *atomicMap[V]) delete(key string) (existed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.m[key]; !ok {
		return false
	}
	next := make(map[string]V, len(a.m))
	for k, existing := range a.m {
		if k != key {
			next[k] = existing
		}
	}
	a.m = next
	return true
}

func (a *atomicMap[V]) keys() []string {
	m := a.snapshot()
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RegisterTool adds or replaces a tool, then enqueues a debounced
// notifications/tools/list_changed.
func (r *registries) RegisterTool(t Tool) {
	r.tools.set(t.Name, t)
	if r.onToolsChanged != nil {
		r.onToolsChanged()
	}
}

// UnregisterTool removes a tool by name, reporting whether it existed.
func (r *registries) UnregisterTool(name string) bool {
	ok := r.tools.delete(name)
	if ok && r.onToolsChanged != nil {
		r.onToolsChanged()
	}
	return ok
}

func (r *registries) RegisterPrompt(p Prompt) {
	r.prompts.set(p.Name, p)
	if r.onPromptsChanged != nil {
		r.onPromptsChanged()
	}
}

func (r *registries) UnregisterPrompt(name string) bool {
	ok := r.prompts.delete(name)
	if ok && r.onPromptsChanged != nil {
		r.onPromptsChanged()
	}
	return ok
}

func (r *registries) RegisterResource(res Resource) {
	r.resources.set(res.URI, res)
	if r.onResourcesChanged != nil {
		r.onResourcesChanged()
	}
}

func (r *registries) UnregisterResource(uri string) bool {
	ok := r.resources.delete(uri)
	if ok && r.onResourcesChanged != nil {
		r.onResourcesChanged()
	}
	return ok
}

func (r *registries) RegisterCompletionProvider(ref string, p CompletionProvider) {
	r.completions.set(ref, p)
}
