package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// RegistryEventKind identifies which namespace a registry mutation touched.
type RegistryEventKind int

// Registry event kinds.
const (
	RegistryEventTools RegistryEventKind = iota
	RegistryEventResources
	RegistryEventPrompts
	RegistryEventResourceUpdated
)

// RegistryEvent describes one registry mutation. URI is set only for
// RegistryEventResourceUpdated.
type RegistryEvent struct {
	Kind RegistryEventKind
	URI  string
}

// ToolDescriptor binds a tool's discovery metadata to its handler.
type ToolDescriptor struct {
	Name        string
	Description string
	// InputSchema is a JSON Schema document. When non-nil, call arguments
	// are validated against it before the handler runs.
	InputSchema []byte
	Handler     ToolHandler
}

// ResourceDescriptor binds a resource's discovery metadata to its handler.
// Resources are keyed by URI.
type ResourceDescriptor struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	Handler     ResourceHandler
}

// PromptDescriptor binds a prompt's discovery metadata to its handler.
type PromptDescriptor struct {
	Name        string
	Description string
	Arguments   []PromptArgument
	Handler     PromptHandler
}

// Registry holds the capabilities a server exposes: tools, resources, and
// prompts, each in its own namespace. Registration rejects duplicates and
// never overwrites. Lookups and listings run concurrently with each other;
// mutations are exclusive. Listings preserve registration order.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]*ToolDescriptor
	toolOrder []string

	resources     map[string]*ResourceDescriptor
	resourceOrder []string
	templates     []ResourceTemplate

	prompts     map[string]*PromptDescriptor
	promptOrder []string

	onChange []func(RegistryEvent)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]*ToolDescriptor),
		resources: make(map[string]*ResourceDescriptor),
		prompts:   make(map[string]*PromptDescriptor),
	}
}

// OnChange registers fn to be called after every registry mutation and on
// every resource update announcement. Callbacks run synchronously on the
// mutating goroutine, outside the registry lock.
func (r *Registry) OnChange(fn func(RegistryEvent)) {
	r.mu.Lock()
	r.onChange = append(r.onChange, fn)
	r.mu.Unlock()
}

// RegisterTool adds a tool. Fails with ErrDuplicateName when a tool of the
// same name exists; the existing registration is untouched.
func (r *Registry) RegisterTool(desc ToolDescriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if desc.Handler == nil {
		return fmt.Errorf("register tool %s: nil handler", desc.Name)
	}
	if desc.InputSchema != nil {
		loader := gojsonschema.NewBytesLoader(desc.InputSchema)
		if _, err := gojsonschema.NewSchema(loader); err != nil {
			return fmt.Errorf("register tool %s: invalid input schema: %w", desc.Name, err)
		}
	}

	r.mu.Lock()
	if _, ok := r.tools[desc.Name]; ok {
		r.mu.Unlock()
		return fmt.Errorf("register tool %s: %w", desc.Name, ErrDuplicateName)
	}
	r.tools[desc.Name] = &desc
	r.toolOrder = append(r.toolOrder, desc.Name)
	r.mu.Unlock()

	r.emit(RegistryEvent{Kind: RegistryEventTools})
	return nil
}

// UnregisterTool removes a tool by name. Removing an unknown name is a
// no-op.
func (r *Registry) UnregisterTool(name string) {
	r.mu.Lock()
	if _, ok := r.tools[name]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.tools, name)
	r.toolOrder = removeName(r.toolOrder, name)
	r.mu.Unlock()

	r.emit(RegistryEvent{Kind: RegistryEventTools})
}

// Tool returns the descriptor registered under name.
func (r *Registry) Tool(name string) (ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.tools[name]
	if !ok {
		return ToolDescriptor{}, false
	}
	return *desc, true
}

// Tools returns discovery summaries of all tools in registration order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Tool, 0, len(r.toolOrder))
	for _, name := range r.toolOrder {
		desc := r.tools[name]
		list = append(list, Tool{
			Name:        desc.Name,
			Description: desc.Description,
			InputSchema: desc.InputSchema,
		})
	}
	return list
}

// CallTool validates params.Arguments against the tool's input schema and
// invokes its handler. An unknown name yields a wire Error with
// CodeToolNotFound; failed validation yields CodeInvalidParams.
func (r *Registry) CallTool(
	ctx context.Context,
	params CallToolParams,
	progress ProgressReporter,
) (CallToolResult, error) {
	r.mu.RLock()
	desc, ok := r.tools[params.Name]
	r.mu.RUnlock()
	if !ok {
		return CallToolResult{}, &Error{
			Code:    CodeToolNotFound,
			Message: fmt.Sprintf("tool not found: %s", params.Name),
		}
	}

	if desc.InputSchema != nil {
		args := params.Arguments
		if len(args) == 0 {
			args = []byte("{}")
		}
		result, err := gojsonschema.Validate(
			gojsonschema.NewBytesLoader(desc.InputSchema),
			gojsonschema.NewBytesLoader(args),
		)
		if err != nil {
			return CallToolResult{}, &Error{
				Code:    CodeInvalidParams,
				Message: fmt.Sprintf("invalid arguments: %v", err),
			}
		}
		if !result.Valid() {
			return CallToolResult{}, &Error{
				Code:    CodeInvalidParams,
				Message: fmt.Sprintf("invalid arguments: %v", result.Errors()),
			}
		}
	}

	res, err := desc.Handler.CallTool(ctx, params, progress)
	if err != nil {
		// Handler failures are tool output, not protocol errors.
		return CallToolResult{
			Content: []Content{{Type: ContentTypeText, Text: err.Error()}},
			IsError: true,
		}, nil
	}
	return res, nil
}

// RegisterResource adds a resource keyed by URI. Fails with ErrDuplicateName
// on a URI collision.
func (r *Registry) RegisterResource(desc ResourceDescriptor) error {
	if desc.URI == "" {
		return fmt.Errorf("register resource: empty uri")
	}
	if desc.Handler == nil {
		return fmt.Errorf("register resource %s: nil handler", desc.URI)
	}

	r.mu.Lock()
	if _, ok := r.resources[desc.URI]; ok {
		r.mu.Unlock()
		return fmt.Errorf("register resource %s: %w", desc.URI, ErrDuplicateName)
	}
	r.resources[desc.URI] = &desc
	r.resourceOrder = append(r.resourceOrder, desc.URI)
	r.mu.Unlock()

	r.emit(RegistryEvent{Kind: RegistryEventResources})
	return nil
}

// UnregisterResource removes a resource by URI. Removing an unknown URI is a
// no-op.
func (r *Registry) UnregisterResource(uri string) {
	r.mu.Lock()
	if _, ok := r.resources[uri]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.resources, uri)
	r.resourceOrder = removeName(r.resourceOrder, uri)
	r.mu.Unlock()

	r.emit(RegistryEvent{Kind: RegistryEventResources})
}

// Resource returns the descriptor registered under uri.
func (r *Registry) Resource(uri string) (ResourceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.resources[uri]
	if !ok {
		return ResourceDescriptor{}, false
	}
	return *desc, true
}

// Resources returns discovery summaries of all resources in registration
// order.
func (r *Registry) Resources() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Resource, 0, len(r.resourceOrder))
	for _, uri := range r.resourceOrder {
		desc := r.resources[uri]
		list = append(list, Resource{
			URI:         desc.URI,
			Name:        desc.Name,
			Description: desc.Description,
			MimeType:    desc.MimeType,
		})
	}
	return list
}

// RegisterResourceTemplate adds a resource template to the listing.
func (r *Registry) RegisterResourceTemplate(tmpl ResourceTemplate) {
	r.mu.Lock()
	r.templates = append(r.templates, tmpl)
	r.mu.Unlock()

	r.emit(RegistryEvent{Kind: RegistryEventResources})
}

// ResourceTemplates returns all resource templates in registration order.
func (r *Registry) ResourceTemplates() []ResourceTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]ResourceTemplate, len(r.templates))
	copy(list, r.templates)
	return list
}

// ReadResource resolves uri and invokes its handler. An unknown URI yields a
// wire Error with CodeResourceNotFound; a handler failure yields
// CodeInternalError.
func (r *Registry) ReadResource(
	ctx context.Context,
	params ReadResourceParams,
	progress ProgressReporter,
) (ReadResourceResult, error) {
	r.mu.RLock()
	desc, ok := r.resources[params.URI]
	r.mu.RUnlock()
	if !ok {
		return ReadResourceResult{}, &Error{
			Code:    CodeResourceNotFound,
			Message: fmt.Sprintf("resource not found: %s", params.URI),
		}
	}

	res, err := desc.Handler.ReadResource(ctx, params, progress)
	if err != nil {
		return ReadResourceResult{}, &Error{
			Code:    CodeInternalError,
			Message: err.Error(),
		}
	}
	return res, nil
}

// NotifyResourceUpdated announces that the content behind uri changed.
// Subscribed peers receive a resource-updated notification.
func (r *Registry) NotifyResourceUpdated(uri string) {
	r.emit(RegistryEvent{Kind: RegistryEventResourceUpdated, URI: uri})
}

// RegisterPrompt adds a prompt. Fails with ErrDuplicateName when a prompt of
// the same name exists.
func (r *Registry) RegisterPrompt(desc PromptDescriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("register prompt: empty name")
	}
	if desc.Handler == nil {
		return fmt.Errorf("register prompt %s: nil handler", desc.Name)
	}

	r.mu.Lock()
	if _, ok := r.prompts[desc.Name]; ok {
		r.mu.Unlock()
		return fmt.Errorf("register prompt %s: %w", desc.Name, ErrDuplicateName)
	}
	r.prompts[desc.Name] = &desc
	r.promptOrder = append(r.promptOrder, desc.Name)
	r.mu.Unlock()

	r.emit(RegistryEvent{Kind: RegistryEventPrompts})
	return nil
}

// UnregisterPrompt removes a prompt by name. Removing an unknown name is a
// no-op.
func (r *Registry) UnregisterPrompt(name string) {
	r.mu.Lock()
	if _, ok := r.prompts[name]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.prompts, name)
	r.promptOrder = removeName(r.promptOrder, name)
	r.mu.Unlock()

	r.emit(RegistryEvent{Kind: RegistryEventPrompts})
}

// Prompt returns the descriptor registered under name.
func (r *Registry) Prompt(name string) (PromptDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.prompts[name]
	if !ok {
		return PromptDescriptor{}, false
	}
	return *desc, true
}

// Prompts returns discovery summaries of all prompts in registration order.
func (r *Registry) Prompts() []Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Prompt, 0, len(r.promptOrder))
	for _, name := range r.promptOrder {
		desc := r.prompts[name]
		list = append(list, Prompt{
			Name:        desc.Name,
			Description: desc.Description,
			Arguments:   desc.Arguments,
		})
	}
	return list
}

// GetPrompt resolves name, checks required arguments, and invokes the
// handler. An unknown name yields a wire Error with CodePromptNotFound; a
// missing required argument yields CodeInvalidParams.
func (r *Registry) GetPrompt(
	ctx context.Context,
	params GetPromptParams,
	progress ProgressReporter,
) (GetPromptResult, error) {
	r.mu.RLock()
	desc, ok := r.prompts[params.Name]
	r.mu.RUnlock()
	if !ok {
		return GetPromptResult{}, &Error{
			Code:    CodePromptNotFound,
			Message: fmt.Sprintf("prompt not found: %s", params.Name),
		}
	}

	for _, arg := range desc.Arguments {
		if !arg.Required {
			continue
		}
		if _, ok := params.Arguments[arg.Name]; !ok {
			return GetPromptResult{}, &Error{
				Code:    CodeInvalidParams,
				Message: fmt.Sprintf("missing required argument: %s", arg.Name),
			}
		}
	}

	res, err := desc.Handler.GetPrompt(ctx, params, progress)
	if err != nil {
		return GetPromptResult{}, &Error{
			Code:    CodeInternalError,
			Message: err.Error(),
		}
	}
	return res, nil
}

func (r *Registry) emit(ev RegistryEvent) {
	r.mu.RLock()
	callbacks := make([]func(RegistryEvent), len(r.onChange))
	copy(callbacks, r.onChange)
	r.mu.RUnlock()

	for _, fn := range callbacks {
		fn(ev)
	}
}

func removeName(order []string, name string) []string {
	for i, n := range order {
		if n == name {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
