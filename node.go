package apprun

import "fmt"

// Kind discriminates the nine node kinds of spec.md §3.
type Kind string

const (
	KindTask          Kind = "task"
	KindResource      Kind = "resource"
	KindEvent         Kind = "event"
	KindTaskMw        Kind = "taskMiddleware"
	KindResourceMw    Kind = "resourceMiddleware"
	KindHook          Kind = "hook"
	KindTag           Kind = "tag"
	KindAsyncContext  Kind = "asyncContext"
	KindErrorNode     Kind = "error"
)

// brand is a zero-size, unexported marker embedded in Base. Only
// constructors in this package can produce a populated Base, the same way
// the teacher's Executor[T] keeps factory/deps private so only
// Derive*/Provide can build one.
type brand struct{}

// Base carries the fields every node kind shares (spec.md §3 "Node
// (common)"). Concrete node types (Task, Resource, Event, ...) embed it.
type Base struct {
	_        brand
	Kind     Kind
	ID       string
	FilePath string
	Meta     map[string]any
	Tags     []*AttachedTag
}

// AttachedTag pairs a Tag with the config it was attached with (Tag.With).
type AttachedTag struct {
	TagID  string
	Config any
	tag    anyTag
}

func newBase(kind Kind, id string, meta map[string]any, tags []*AttachedTag) Base {
	if id == "" {
		panic(fmt.Sprintf("apprun: %s node registered with empty id", kind))
	}
	if meta == nil {
		meta = map[string]any{}
	}
	return Base{Kind: kind, ID: id, Meta: meta, Tags: tags}
}

// NodeID returns the node's id. Implemented by every concrete node type via
// embedding Base, used by the store to index nodes generically.
func (b Base) NodeID() string { return b.ID }

// NodeKind returns the node's kind.
func (b Base) NodeKind() Kind { return b.Kind }

// AnyNode is the capability interface the store and debug tooling use to
// treat every node kind uniformly (spec.md §9 "Polymorphism over node
// kinds").
type AnyNode interface {
	NodeID() string
	NodeKind() Kind
}
