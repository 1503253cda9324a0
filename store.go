package apprun

import (
	"context"
	"sync"
)

// TaskOverride rebinds a registered task's run function and may augment
// its dependencies, middleware, tags and throws list
// (spec.md §3 "Resource", "a resource override").
type TaskOverride struct {
	TargetID        string
	Run             TaskFunc
	AddDependencies DepMap
	AddMiddleware   []*ConfiguredTaskMw
	AddTags         []*AttachedTag
	AddThrows       []string
}

// ResourceOverride rebinds a registered resource's init/dispose and may
// augment its dependencies, middleware and tags.
type ResourceOverride struct {
	TargetID        string
	Init            func(ctx context.Context, cfg any, deps Deps, rc *ResourceContext) (any, error)
	Dispose         func(ctx context.Context, value, cfg any, deps Deps, rc *ResourceContext) error
	AddDependencies DepMap
	AddMiddleware   []*ConfiguredResourceMw
	AddTags         []*AttachedTag
}

func (o *TaskOverride) registerableNode() AnyNode     { return nil }
func (o *ResourceOverride) registerableNode() AnyNode { return nil }

type overrideEntry struct {
	depth int
	task  *TaskOverride
	res   *ResourceOverride
}

// Store is the boot-time registry (spec.md §4.1 "Store (Registry)"),
// generalized from the teacher's single-executor Scope cache (scope.go)
// and ReactiveGraph (graph.go) to a multi-kind node registry plus a tags
// index and an override list.
type Store struct {
	mu sync.RWMutex

	tasks       map[string]*Task
	resources   map[string]*Resource
	events      map[string]*Event
	taskMws     map[string]*TaskMiddleware
	resourceMws map[string]*ResourceMiddleware
	hooks       map[string]*Hook
	asyncCtxs   map[string]*AsyncContextDef

	tagsIndex map[string]map[string]bool // tagID -> node id set

	taskOverrides     map[string]*overrideEntry
	resourceOverrides map[string]*overrideEntry

	nextHookIndex int
}

func newStore() *Store {
	return &Store{
		tasks:             map[string]*Task{},
		resources:         map[string]*Resource{},
		events:            map[string]*Event{},
		taskMws:           map[string]*TaskMiddleware{},
		resourceMws:       map[string]*ResourceMiddleware{},
		hooks:             map[string]*Hook{},
		asyncCtxs:         map[string]*AsyncContextDef{},
		tagsIndex:         map[string]map[string]bool{},
		taskOverrides:     map[string]*overrideEntry{},
		resourceOverrides: map[string]*overrideEntry{},
	}
}

// buildStore walks the registration graph from root, collecting every
// transitively registered node and override. Registration is monotonic:
// the same node instance registered twice is a no-op; two distinct node
// instances sharing an id fail with DuplicateIdError (spec.md §4.1,
// invariant I1). A cycle in the *registration* DAG (resource A's Register
// closure directly or indirectly reaches A again) fails with
// CyclicRegistrationError.
func buildStore(root *Resource, rootCfg any) (*Store, error) {
	s := newStore()
	visiting := map[string]bool{}
	var path []string

	var walk func(r *Resource, cfg any, depth int) error
	walk = func(r *Resource, cfg any, depth int) error {
		if visiting[r.ID] {
			return &CyclicRegistrationError{Path: append(append([]string{}, path...), r.ID)}
		}
		if existing, ok := s.resources[r.ID]; ok {
			if existing != r {
				return &DuplicateIdError{ID: r.ID}
			}
			return nil
		}
		visiting[r.ID] = true
		path = append(path, r.ID)
		defer func() {
			delete(visiting, r.ID)
			path = path[:len(path)-1]
		}()

		s.resources[r.ID] = r
		s.indexTags(r.ID, r.Tags)

		for _, child := range r.effectiveRegister(cfg) {
			if err := s.registerChild(child, depth+1, walk); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root, rootCfg, 0); err != nil {
		return nil, err
	}
	return s, nil
}

// registerChild dispatches one Registerable: either a plain node (added
// directly), a *ResourceWithConfig (recurses into the resource with its
// bound config), or an override (recorded, outermost-wins by depth).
func (s *Store) registerChild(reg Registerable, depth int, walkResource func(*Resource, any, int) error) error {
	switch v := reg.(type) {
	case *ResourceWithConfig:
		return walkResource(v.Resource, v.Config, depth)
	case *Resource:
		return walkResource(v, v.DefaultConfig, depth)
	case *Task:
		return s.registerTask(v)
	case *Event:
		return s.registerEvent(v)
	case *Hook:
		return s.registerHook(v)
	case *TaskMiddleware:
		return s.registerTaskMw(v)
	case *ResourceMiddleware:
		return s.registerResourceMw(v)
	case *AsyncContextDef:
		return s.registerAsyncContext(v)
	case *TaskOverride:
		s.recordTaskOverride(v, depth)
		return nil
	case *ResourceOverride:
		s.recordResourceOverride(v, depth)
		return nil
	default:
		return nil
	}
}

func (s *Store) registerTask(t *Task) error {
	if existing, ok := s.tasks[t.ID]; ok {
		if existing != t {
			return &DuplicateIdError{ID: t.ID}
		}
		return nil
	}
	s.tasks[t.ID] = t
	s.indexTags(t.ID, t.Tags)
	return nil
}

func (s *Store) registerEvent(e *Event) error {
	if existing, ok := s.events[e.ID]; ok {
		if existing != e {
			return &DuplicateIdError{ID: e.ID}
		}
		return nil
	}
	s.events[e.ID] = e
	s.indexTags(e.ID, e.Tags)
	return nil
}

func (s *Store) registerHook(h *Hook) error {
	if existing, ok := s.hooks[h.ID]; ok {
		if existing != h {
			return &DuplicateIdError{ID: h.ID}
		}
		return nil
	}
	h.registrationIndex = s.nextHookIndex
	s.nextHookIndex++
	s.hooks[h.ID] = h
	return nil
}

func (s *Store) registerTaskMw(m *TaskMiddleware) error {
	if existing, ok := s.taskMws[m.ID]; ok {
		if existing != m {
			return &DuplicateIdError{ID: m.ID}
		}
		return nil
	}
	s.taskMws[m.ID] = m
	return nil
}

func (s *Store) registerResourceMw(m *ResourceMiddleware) error {
	if existing, ok := s.resourceMws[m.ID]; ok {
		if existing != m {
			return &DuplicateIdError{ID: m.ID}
		}
		return nil
	}
	s.resourceMws[m.ID] = m
	return nil
}

func (s *Store) registerAsyncContext(d *AsyncContextDef) error {
	if existing, ok := s.asyncCtxs[d.ID]; ok {
		if existing != d {
			return &DuplicateIdError{ID: d.ID}
		}
		return nil
	}
	s.asyncCtxs[d.ID] = d
	return nil
}

func (s *Store) indexTags(nodeID string, tags []*AttachedTag) {
	for _, at := range tags {
		set, ok := s.tagsIndex[at.TagID]
		if !ok {
			set = map[string]bool{}
			s.tagsIndex[at.TagID] = set
		}
		set[nodeID] = true
	}
}

// recordTaskOverride keeps the outermost (root-closest, smallest depth)
// override for a given target id, per spec.md §4.1 "the outermost
// (root-closest) override wins over nested ones".
func (s *Store) recordTaskOverride(o *TaskOverride, depth int) {
	if cur, ok := s.taskOverrides[o.TargetID]; ok && cur.depth <= depth {
		return
	}
	s.taskOverrides[o.TargetID] = &overrideEntry{depth: depth, task: o}
}

func (s *Store) recordResourceOverride(o *ResourceOverride, depth int) {
	if cur, ok := s.resourceOverrides[o.TargetID]; ok && cur.depth <= depth {
		return
	}
	s.resourceOverrides[o.TargetID] = &overrideEntry{depth: depth, res: o}
}

// applyOverrides applies every recorded override to its target node,
// failing if the target was never registered (spec.md invariant I5).
func (s *Store) applyOverrides() error {
	for id, entry := range s.taskOverrides {
		t, ok := s.tasks[id]
		if !ok {
			return &InvalidOverrideError{TargetID: id, Reason: "override target task not registered"}
		}
		o := entry.task
		if o.Run != nil {
			t.Run = o.Run
		}
		for k, v := range o.AddDependencies {
			if t.Dependencies == nil {
				t.Dependencies = DepMap{}
			}
			t.Dependencies[k] = v
		}
		t.Middleware = append(t.Middleware, o.AddMiddleware...)
		t.Tags = append(t.Tags, o.AddTags...)
		s.indexTags(id, o.AddTags)
		t.Throws = append(t.Throws, o.AddThrows...)
	}
	for id, entry := range s.resourceOverrides {
		r, ok := s.resources[id]
		if !ok {
			return &InvalidOverrideError{TargetID: id, Reason: "override target resource not registered"}
		}
		o := entry.res
		if o.Init != nil {
			r.Init = o.Init
		}
		if o.Dispose != nil {
			r.Dispose = o.Dispose
		}
		for k, v := range o.AddDependencies {
			if r.Dependencies == nil {
				r.Dependencies = DepMap{}
			}
			r.Dependencies[k] = v
		}
		r.Middleware = append(r.Middleware, o.AddMiddleware...)
		r.Tags = append(r.Tags, o.AddTags...)
		s.indexTags(id, o.AddTags)
	}
	return nil
}

func (s *Store) getTask(id string) (*Task, bool)             { t, ok := s.tasks[id]; return t, ok }
func (s *Store) getResource(id string) (*Resource, bool)     { r, ok := s.resources[id]; return r, ok }
func (s *Store) getEvent(id string) (*Event, bool)            { e, ok := s.events[id]; return e, ok }
func (s *Store) getHook(id string) (*Hook, bool)              { h, ok := s.hooks[id]; return h, ok }

// getTasksWithTag returns every task carrying the given tag id
// (spec.md §4.1 "getTasksWithTag").
func (s *Store) getTasksWithTag(tagID string) []*Task {
	var out []*Task
	for id := range s.tagsIndex[tagID] {
		if t, ok := s.tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (s *Store) getResourcesWithTag(tagID string) []*Resource {
	var out []*Resource
	for id := range s.tagsIndex[tagID] {
		if r, ok := s.resources[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) hooksForEvent(eventID string) []*Hook {
	var specific, wildcard []*Hook
	for _, h := range s.hooks {
		if h.On.Wildcard {
			wildcard = append(wildcard, h)
			continue
		}
		for _, id := range h.On.EventIDs {
			if id == eventID {
				specific = append(specific, h)
				break
			}
		}
	}
	return append(specific, wildcard...)
}
