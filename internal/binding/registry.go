package binding

import "github.com/google/uuid"

// Registry holds the live bindings under three lookup views: by appointment
// object, by room token, by appointment identity. The views always agree; a
// binding present in one is present in all that apply (drafts have no
// identity and are absent from the identity view).
//
// Registry does no locking of its own. It is owned by an Engine whose mutex
// guards every mutation as one atomic unit, and tests construct isolated
// instances directly.
type Registry struct {
	byObject   map[uuid.UUID]*Binding
	byToken    map[string]*Binding
	byIdentity map[string]*Binding
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byObject:   make(map[uuid.UUID]*Binding),
		byToken:    make(map[string]*Binding),
		byIdentity: make(map[string]*Binding),
	}
}

// Len returns the number of live bindings.
func (r *Registry) Len() int { return len(r.byObject) }

// ByObject returns the binding for an appointment object, or nil.
func (r *Registry) ByObject(id uuid.UUID) *Binding { return r.byObject[id] }

// ByToken returns the binding holding a room token, or nil.
func (r *Registry) ByToken(token string) *Binding {
	if token == "" {
		return nil
	}
	return r.byToken[token]
}

// ByIdentity returns the binding for an appointment identity, or nil. The
// empty identity is never indexed.
func (r *Registry) ByIdentity(identity string) *Binding {
	if identity == "" {
		return nil
	}
	return r.byIdentity[identity]
}

func (r *Registry) insert(b *Binding) {
	r.byObject[b.object] = b
	r.byToken[b.token] = b
	if b.identity != "" {
		r.byIdentity[b.identity] = b
	}
}

// remove deletes b from every view using the token and identity values the
// binding carries right now. Entries that meanwhile point at a different
// binding are left alone.
func (r *Registry) remove(b *Binding) {
	if r.byObject[b.object] == b {
		delete(r.byObject, b.object)
	}
	if r.byToken[b.token] == b {
		delete(r.byToken, b.token)
	}
	if b.identity != "" && r.byIdentity[b.identity] == b {
		delete(r.byIdentity, b.identity)
	}
}

// rekey moves b to a new identity key without touching the object and token
// views. Appointment identities settle exactly once, on the first save.
func (r *Registry) rekey(b *Binding, identity string) {
	if b.identity == identity {
		return
	}
	if b.identity != "" && r.byIdentity[b.identity] == b {
		delete(r.byIdentity, b.identity)
	}
	b.identity = identity
	if identity != "" {
		r.byIdentity[identity] = b
	}
}
