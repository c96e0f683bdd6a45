package tool

import "encoding/json"

// Descriptor is the read surface transports need from a tool. Registered
// rows and detached projections both satisfy it, so listing code never
// depends on whether an entry came straight from the registry or was
// assembled elsewhere. Backend URLs and activity flags stay out of it.
type Descriptor interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	RequiredRoles() []string
	Scope() Scope
	Categories() []string
}

// rowDescriptor adapts a registered row without copying it.
type rowDescriptor struct {
	t *Tool
}

var _ Descriptor = rowDescriptor{}

func (d rowDescriptor) Name() string                 { return d.t.Name }
func (d rowDescriptor) Description() string          { return d.t.Description }
func (d rowDescriptor) InputSchema() json.RawMessage { return d.t.InputSchema }
func (d rowDescriptor) RequiredRoles() []string      { return d.t.RequiredRoles }
func (d rowDescriptor) Scope() Scope                 { return d.t.Scope }
func (d rowDescriptor) Categories() []string         { return d.t.Categories }

// Descriptor adapts the row to the transport read surface.
func (t *Tool) Descriptor() Descriptor {
	return rowDescriptor{t: t}
}

// View is a tool projection detached from any registry row, used for
// listings assembled outside the store.
type View struct {
	name          string
	description   string
	inputSchema   json.RawMessage
	requiredRoles []string
	scope         Scope
	categories    []string
}

var _ Descriptor = View{}

// NewView builds a detached descriptor.
func NewView(name, description string, schema json.RawMessage, roles []string, scope Scope, categories []string) View {
	return View{
		name:          name,
		description:   description,
		inputSchema:   schema,
		requiredRoles: roles,
		scope:         scope,
		categories:    categories,
	}
}

// ViewOf copies a registered row into a detached projection.
func ViewOf(t *Tool) View {
	return NewView(t.Name, t.Description, t.InputSchema, t.RequiredRoles, t.Scope, t.Categories)
}

func (v View) Name() string                 { return v.name }
func (v View) Description() string          { return v.description }
func (v View) InputSchema() json.RawMessage { return v.inputSchema }
func (v View) RequiredRoles() []string      { return v.requiredRoles }
func (v View) Scope() Scope                 { return v.scope }
func (v View) Categories() []string         { return v.categories }
