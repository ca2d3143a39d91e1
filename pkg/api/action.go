package api

import "fmt"

// Options controls how the orchestrator and the page loader treat an action.
// All flags default to false and may be combined freely.
type Options struct {
	// Parallel marks an action as independent of other results. Parallel
	// actions run concurrently before any sequential action and never see
	// the accumulation.
	Parallel bool `json:"parallel"`

	// Passive excludes an action from automatic loading. Passive actions are
	// still resolved when requested explicitly (for example via FetchFresh).
	Passive bool `json:"passive"`

	// Optional turns a resolution failure into a nil result instead of
	// failing the whole fetch.
	Optional bool `json:"optional"`
}

// Option mutates Options. Use Parallel, Passive and Optional.
type Option func(*Options)

// Parallel sets Options.Parallel.
func Parallel() Option { return func(o *Options) { o.Parallel = true } }

// Passive sets Options.Passive.
func Passive() Option { return func(o *Options) { o.Passive = true } }

// Optional sets Options.Optional.
func Optional() Option { return func(o *Options) { o.Optional = true } }

func buildOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// PayloadKind discriminates the Payload variants.
type PayloadKind int

const (
	// PayloadLiteral carries a ready value.
	PayloadLiteral PayloadKind = iota
	// PayloadDerived carries a function evaluated against the ambient
	// context at normalization time.
	PayloadDerived
)

// PayloadFunc computes a payload from the ambient context.
type PayloadFunc func(amb Ambient) (any, error)

// Payload is either a literal value or a derivation from the ambient
// context. The zero Payload is a nil literal.
type Payload struct {
	kind   PayloadKind
	value  any
	derive PayloadFunc
}

// Literal returns a payload holding v as-is.
func Literal(v any) Payload {
	return Payload{kind: PayloadLiteral, value: v}
}

// Derived returns a payload computed by fn when the action is normalized.
// A nil fn derives a nil payload.
func Derived(fn PayloadFunc) Payload {
	return Payload{kind: PayloadDerived, derive: fn}
}

// Kind reports which variant p holds.
func (p Payload) Kind() PayloadKind { return p.kind }

// Resolve returns the literal value, or invokes the derivation with amb.
// Errors from the derivation are returned unchanged.
func (p Payload) Resolve(amb Ambient) (any, error) {
	if p.kind == PayloadDerived {
		if p.derive == nil {
			return nil, nil
		}
		return p.derive(amb)
	}
	return p.value, nil
}

// RawAction is a declared action whose payload may still be derived.
type RawAction struct {
	Type    string
	Payload Payload
	Options Options
}

// Entry wraps r as a fetch map entry.
func (r RawAction) Entry() Entry {
	return Entry{kind: EntryRaw, typ: r.Type, raw: r}
}

// Action is a resolved unit of work: a type, a concrete payload and options.
type Action struct {
	Type    string  `json:"type"`
	Payload any     `json:"payload"`
	Options Options `json:"options"`
}

func (a Action) String() string {
	return fmt.Sprintf("action(%s)", a.Type)
}

// EntryKind discriminates fetch map entries.
type EntryKind int

const (
	// EntryRaw holds a RawAction.
	EntryRaw EntryKind = iota + 1
	// EntryCreator references a creator without a payload; it resolves to
	// an action with a nil payload and zero options.
	EntryCreator
)

func (k EntryKind) String() string {
	switch k {
	case EntryRaw:
		return "raw"
	case EntryCreator:
		return "creator"
	default:
		return "invalid"
	}
}

// Entry is one value of a FetchMap: a raw action or a bare creator reference.
type Entry struct {
	kind EntryKind
	typ  string
	raw  RawAction
}

// RefOf returns a bare-creator entry for anything carrying a type tag.
func RefOf(t Typed) Entry {
	return Entry{kind: EntryCreator, typ: t.Type()}
}

// Kind reports the entry variant. The zero Entry reports 0 and is invalid.
func (e Entry) Kind() EntryKind { return e.kind }

// Type returns the action type the entry resolves to.
func (e Entry) Type() string { return e.typ }

// Raw returns the raw action and true for EntryRaw entries.
func (e Entry) Raw() (RawAction, bool) {
	if e.kind != EntryRaw {
		return RawAction{}, false
	}
	return e.raw, true
}

// Typed is anything carrying an action type tag, most commonly a Creator.
type Typed interface {
	Type() string
}

// TypeName adapts a plain string to Typed, for registering handlers
// without a Creator at hand.
type TypeName string

func (t TypeName) Type() string { return string(t) }

// Creator stamps out raw actions of one fixed type. P is the payload type;
// R is the result type the registered handler produces. R has no runtime
// effect beyond typed reads through Result.
type Creator[P, R any] struct {
	typ string
}

// NewCreator returns a Creator for typ. It panics on an empty type.
func NewCreator[P, R any](typ string) Creator[P, R] {
	if typ == "" {
		panic("prepare: action type must not be empty")
	}
	return Creator[P, R]{typ: typ}
}

// Type returns the shared action type.
func (c Creator[P, R]) Type() string { return c.typ }

// New returns a raw action with a literal payload.
func (c Creator[P, R]) New(payload P, opts ...Option) RawAction {
	return RawAction{
		Type:    c.typ,
		Payload: Literal(payload),
		Options: buildOptions(opts),
	}
}

// Derive returns a raw action whose payload is computed from the ambient
// context at normalization time.
func (c Creator[P, R]) Derive(fn func(Ambient) (P, error), opts ...Option) RawAction {
	var derive PayloadFunc
	if fn != nil {
		derive = func(amb Ambient) (any, error) {
			return fn(amb)
		}
	}
	return RawAction{
		Type:    c.typ,
		Payload: Derived(derive),
		Options: buildOptions(opts),
	}
}

// Ref returns a bare-creator entry: resolved with a nil payload.
func (c Creator[P, R]) Ref() Entry {
	return RefOf(c)
}

// Result reads key from props as R. It converts JSON-decoded values (maps,
// float64 numbers) into R. A missing or nil value returns false.
func (c Creator[P, R]) Result(props map[string]any, key string) (R, bool) {
	var zero R
	v, ok := props[key]
	if !ok || v == nil {
		return zero, false
	}
	out, err := Convert[R](v)
	if err != nil {
		return zero, false
	}
	return out, true
}
