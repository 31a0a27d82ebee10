package engine

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/savepipe/internal/model"
	"github.com/roach88/savepipe/internal/registry"
)

// Session is one unit of work: an identity map over tracked objects plus
// the pipeline that turns their changes into a storage batch.
//
// A session is not safe for concurrent use. Detection and the post-save
// refresh mutate entries without locking; give each caller its own session.
type Session struct {
	id         string
	registry   *registry.Registry
	executor   BatchExecutor
	logger     *slog.Logger
	policy     ReplacementPolicy
	autoDetect bool
	idGen      SessionIDGenerator

	clock    *Clock
	tempKeys *Clock

	entries  []*Entry
	byObject map[*Object]*Entry
	byKey    map[string]*Entry
	nextID   int

	sp *savepoint
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithReplacementPolicy selects how replaced collection members are
// written. Default: ReplaceDeleteInsert.
func WithReplacementPolicy(p ReplacementPolicy) Option {
	return func(s *Session) { s.policy = p }
}

// WithSessionIDGenerator sets the generator for the session ID.
func WithSessionIDGenerator(g SessionIDGenerator) Option {
	return func(s *Session) { s.idGen = g }
}

// WithAutoDetectChanges controls whether SaveChanges runs DetectChanges
// first. Default: true.
func WithAutoDetectChanges(enabled bool) Option {
	return func(s *Session) { s.autoDetect = enabled }
}

// NewSession creates a session over reg. executor may be nil for sessions
// that only track and plan.
func NewSession(reg *registry.Registry, executor BatchExecutor, opts ...Option) *Session {
	s := &Session{
		registry:   reg,
		executor:   executor,
		logger:     slog.Default(),
		policy:     ReplaceDeleteInsert,
		autoDetect: true,
		idGen:      UUIDv7Generator{},
		clock:      NewClock(),
		tempKeys:   NewClockAt(firstTemporaryKey),
		byObject:   make(map[*Object]*Entry),
		byKey:      make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.id = s.idGen.Generate()
	s.logger = s.logger.With("session", s.id)
	return s
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// ReplacementPolicy returns the policy this session plans with.
func (s *Session) ReplacementPolicy() ReplacementPolicy { return s.policy }

// Registry returns the metadata registry.
func (s *Session) Registry() *registry.Registry { return s.registry }

// Entries returns all tracked entries in tracking order.
func (s *Session) Entries() []*Entry {
	return slices.Clone(s.entries)
}

// Entry returns the entry tracking obj, by instance identity. This is the
// only way to reach entries whose keys are still temporary.
func (s *Session) Entry(obj *Object) *Entry {
	return s.byObject[obj]
}

// Lookup returns the live entry for (entityType, key), or nil.
//
// Only live entries are indexed by key: a Deleted entry no longer owns its
// key, so a replacement can claim it, and is reachable only through Entry
// or Entries. key may list fields in any order; they are matched by name.
// Entries whose key is temporary never match: placeholders are not
// comparable across entries.
func (s *Session) Lookup(entityType string, key model.Fields) *Entry {
	meta, err := s.registry.Describe(entityType)
	if err != nil {
		return nil
	}
	ordered := make(model.Key, len(meta.Key))
	for i, k := range meta.Key {
		if !key.Has(k) {
			return nil
		}
		ordered[i] = model.Field{Name: k, Value: key.Get(k)}
	}
	return s.byKey[identityOf(entityType, ordered)]
}

// Track registers obj with the given state.
//
// Unchanged and Deleted entries take the current values as their original
// values. Added entries whose generated key is unset receive a temporary
// key. Tracking an object that is already tracked returns its entry.
// Tracking a second instance whose key matches a live entry fails with
// DUPLICATE_TRACKING and leaves the session unmodified.
//
// Track does not follow navigations; see Add and Attach.
func (s *Session) Track(obj *Object, state State) (*Entry, error) {
	if obj == nil {
		return nil, &Error{Code: ErrCodeInvalidGraph, Message: "cannot track a nil object"}
	}
	if e := s.byObject[obj]; e != nil {
		return e, nil
	}
	switch state {
	case Unchanged, Added, Deleted:
	default:
		return nil, &Error{
			Code:    ErrCodeInvalidState,
			Message: fmt.Sprintf("cannot start tracking in state %s", state),
			Entity:  obj.Type(),
		}
	}
	return s.track(obj, state, nil, nil)
}

// Add tracks obj and every untracked object reachable through its
// navigations as Added.
func (s *Session) Add(obj *Object) (*Entry, error) {
	return s.trackGraph(obj, Added)
}

// Attach tracks obj and every untracked object reachable through its
// navigations as Unchanged.
func (s *Session) Attach(obj *Object) (*Entry, error) {
	return s.trackGraph(obj, Unchanged)
}

// trackGraph tracks obj and discovers its graph. A failure anywhere in the
// graph leaves the session as it was.
func (s *Session) trackGraph(obj *Object, state State) (*Entry, error) {
	sp := s.savepoint()
	e, err := s.Track(obj, state)
	if err == nil {
		err = s.discover(e, state)
	}
	if err != nil {
		s.rollback(sp)
		return nil, err
	}
	s.release(sp)
	return e, nil
}

// Remove stages obj for deletion. An Added entry is detached instead.
// Dependents of required relationships are removed too; dependents of
// optional ones have their foreign key cleared.
func (s *Session) Remove(obj *Object) error {
	e := s.byObject[obj]
	if e == nil {
		return &Error{Code: ErrCodeNotTracked, Message: "object is not tracked", Entity: obj.Type()}
	}
	s.markDeleted(e)
	return nil
}

// Detach stops tracking obj without staging any change.
func (s *Session) Detach(obj *Object) error {
	e := s.byObject[obj]
	if e == nil {
		return &Error{Code: ErrCodeNotTracked, Message: "object is not tracked", Entity: obj.Type()}
	}
	s.detach(e)
	return nil
}

// trackOrigin links an entry discovered through a navigation to its
// principal.
type trackOrigin struct {
	principal *Entry
	rel       *model.Relationship
}

func (s *Session) track(obj *Object, state State, origin *trackOrigin, fixups model.Fields) (*Entry, error) {
	meta, err := s.registry.Describe(obj.Type())
	if err != nil {
		return nil, &Error{Code: ErrCodeUnknownEntity, Message: err.Error(), Entity: obj.Type()}
	}

	current, err := readValues(meta, obj)
	if err != nil {
		return nil, err
	}
	for _, f := range fixups {
		current[f.Name] = f.Value
	}

	temporary := make(map[string]bool)
	if origin != nil {
		for i, fk := range origin.rel.ForeignKey {
			if origin.principal.temporary[origin.principal.meta.Key[i]] {
				temporary[fk] = true
			}
		}
	}

	var pendingKey string
	if state == Added {
		if gen, ok := meta.GeneratedKey(); ok && isUnsetKey(current[gen.Name]) {
			pendingKey = gen.Name
		}
	}
	for _, k := range meta.Key {
		if k != pendingKey && model.IsNull(current[k]) {
			return nil, &Error{
				Code:    ErrCodeInvalidKey,
				Message: fmt.Sprintf("key property %s is null", k),
				Entity:  meta.Name,
			}
		}
	}

	e := &Entry{
		object:     obj,
		meta:       meta,
		current:    current,
		original:   make(map[string]model.Value),
		temporary:  temporary,
		principals: make(map[string]*Entry),
	}
	if state != Deleted && pendingKey == "" && !e.HasTemporaryKey() {
		if err := s.checkDuplicate(e); err != nil {
			return nil, err
		}
	}

	// Nothing below fails; the session is only modified from here on.
	for _, f := range fixups {
		s.setValue(obj, f.Name, f.Value)
	}
	if pendingKey != "" {
		v := model.Int(s.tempKeys.Next())
		e.current[pendingKey] = v
		e.temporary[pendingKey] = true
		s.setValue(obj, pendingKey, v)
	}
	if state != Added {
		e.original = copyValues(e.current)
		e.takeSnapshots()
	} else {
		e.snapshots = make(map[string]*CollectionSnapshot)
	}
	if origin != nil {
		e.principals[relationshipKey(origin.rel)] = origin.principal
	}

	e.id = s.nextID
	s.nextID++
	s.entries = append(s.entries, e)
	s.byObject[obj] = e
	if state != Deleted {
		s.index(e)
	}
	s.stage(e, state)

	s.logger.Debug("tracked entity",
		"entity", meta.Name,
		"key", e.Key().String(),
		"state", state.String(),
		"temporary", e.HasTemporaryKey())
	return e, nil
}

// discover follows navigations from root, tracking new objects as state.
func (s *Session) discover(root *Entry, state State) error {
	queue := []*Entry{root}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		added, err := s.detectNavigations(e, state)
		if err != nil {
			return err
		}
		queue = append(queue, added...)
	}
	return nil
}

func (s *Session) stage(e *Entry, state State) {
	e.state = state
	e.staged = s.clock.Next()
}

func (s *Session) index(e *Entry) {
	if e.HasTemporaryKey() {
		return
	}
	e.indexed = e.identity()
	s.byKey[e.indexed] = e
}

func (s *Session) unindex(e *Entry) {
	if e.indexed != "" && s.byKey[e.indexed] == e {
		delete(s.byKey, e.indexed)
	}
	e.indexed = ""
}

// reindex moves e to its current identity, failing if another live entry
// holds it.
func (s *Session) reindex(e *Entry) error {
	if e.HasTemporaryKey() {
		s.unindex(e)
		return nil
	}
	if e.identity() == e.indexed {
		return nil
	}
	if err := s.checkDuplicate(e); err != nil {
		return err
	}
	s.unindex(e)
	s.index(e)
	return nil
}

func (s *Session) checkDuplicate(e *Entry) error {
	if other := s.byKey[e.identity()]; other != nil && other != e {
		return newDuplicateTrackingError(e.meta.Name, e.Key().String())
	}
	return nil
}

func (s *Session) markDeleted(e *Entry) {
	switch e.state {
	case Deleted, Detached:
		return
	case Added:
		s.detach(e)
	default:
		s.unindex(e)
		s.stage(e, Deleted)
	}

	for i := range e.meta.Relationships {
		rel := &e.meta.Relationships[i]
		members := e.object.Collection(rel.Navigation)
		if snap := e.snapshots[rel.Navigation]; snap != nil {
			for _, m := range snap.Members {
				if !slices.Contains(members, m) {
					members = append(members, m)
				}
			}
		}
		for _, m := range members {
			child := s.byObject[m]
			if child == nil || child.state == Deleted || child.state == Detached {
				continue
			}
			if p := child.principals[relationshipKey(rel)]; p != nil && p != e {
				continue
			}
			s.orphan(child, rel)
		}
	}
}

// orphan handles a dependent that lost its principal.
func (s *Session) orphan(child *Entry, rel *model.Relationship) {
	if rel.Required {
		child.orphaned = true
		s.markDeleted(child)
		return
	}
	for _, fk := range rel.ForeignKey {
		s.setValue(child.object, fk, model.Null{})
		delete(child.temporary, fk)
	}
	delete(child.principals, relationshipKey(rel))
}

// restore brings an orphan-deleted entry back after it reappeared in a
// collection.
func (s *Session) restore(e *Entry) error {
	if err := s.checkDuplicate(e); err != nil {
		return err
	}
	e.orphaned = false
	s.index(e)
	s.stage(e, Unchanged)
	return nil
}

func (s *Session) detach(e *Entry) {
	s.unindex(e)
	delete(s.byObject, e.object)
	s.entries = slices.DeleteFunc(s.entries, func(x *Entry) bool { return x == e })
	e.state = Detached
}

func isUnsetKey(v model.Value) bool {
	if model.IsNull(v) {
		return true
	}
	n, ok := v.(model.Int)
	return ok && n == 0
}
