// Package objser serializes Go values carried by object flavors.
//
// Types are resolved through named domains. A domain is a namespace of class
// names; the same Go type may be registered in several domains, possibly
// under different names. The first time a type is serialized the registry
// records which domain it came from and every later round trip of that type
// resolves through the same domain, so a value copied through the registry
// comes back as the type it left as.
//
// Values are CBOR-encoded inside a small envelope naming the domain and
// class. Types implementing proto.Message use protobuf wire encoding for the
// body instead.
package objser

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	cbor "github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/proto"

	"go.klb.dev/clipxfer/internal/flavor"
)

// DefaultDomain is the domain created with every Registry.
const DefaultDomain = "default"

// ErrUnresolvedType reports a value whose type is not registered in any
// domain, or an envelope naming a domain or class the registry does not know.
var ErrUnresolvedType = errors.New("unresolved object type")

type bodyKind uint8

const (
	bodyCBOR bodyKind = iota
	bodyProto
)

type envelope struct {
	Domain string          `cbor:"1,keyasint"`
	Class  string          `cbor:"2,keyasint"`
	Kind   bodyKind        `cbor:"3,keyasint,omitempty"`
	Body   cbor.RawMessage `cbor:"4,keyasint"`
}

// Domain is a namespace mapping class names to Go types.
type Domain struct {
	name    string
	mu      sync.RWMutex
	byClass map[string]reflect.Type
	byType  map[reflect.Type]string
}

func (d *Domain) Name() string { return d.name }

// Register makes sample's dynamic type resolvable as class in d.
func (d *Domain) Register(class string, sample any) {
	t := reflect.TypeOf(sample)
	if t == nil {
		panic("objser: Register with nil sample")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byClass[class] = t
	if _, ok := d.byType[t]; !ok {
		d.byType[t] = class
	}
}

// Register makes T resolvable as class in d.
func Register[T any](d *Domain, class string) {
	var zero T
	d.Register(class, zero)
}

func (d *Domain) typeFor(class string) (reflect.Type, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.byClass[class]
	return t, ok
}

func (d *Domain) classFor(t reflect.Type) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byType[t]
	return c, ok
}

// Registry owns the domains and the record of where each type was first
// serialized. It implements codec.ObjectService.
type Registry struct {
	enc cbor.EncMode
	dec cbor.DecMode
	po  proto.MarshalOptions

	mu      sync.Mutex
	domains map[string]*Domain
	order   []*Domain
	origin  map[reflect.Type]origin
}

type origin struct {
	domain *Domain
	class  string
}

// NewRegistry returns a registry with an empty default domain.
func NewRegistry() (*Registry, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("objser: cbor encoder: %w", err)
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("objser: cbor decoder: %w", err)
	}
	r := &Registry{
		enc:     em,
		dec:     dm,
		po:      proto.MarshalOptions{Deterministic: true},
		domains: make(map[string]*Domain),
		origin:  make(map[reflect.Type]origin),
	}
	r.Domain(DefaultDomain)
	return r, nil
}

// Domain returns the named domain, creating it on first use.
func (r *Registry) Domain(name string) *Domain {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.domains[name]; ok {
		return d
	}
	d := &Domain{
		name:    name,
		byClass: make(map[string]reflect.Type),
		byType:  make(map[reflect.Type]string),
	}
	r.domains[name] = d
	r.order = append(r.order, d)
	return d
}

// Default returns the default domain.
func (r *Registry) Default() *Domain { return r.Domain(DefaultDomain) }

// resolve finds the domain and class to serialize t under. A class hint from
// the flavor picks among domains on the first encounter; afterwards the
// recorded origin wins.
func (r *Registry) resolve(t reflect.Type, hint string) (*Domain, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.origin[t]; ok {
		return o.domain, o.class, nil
	}
	var found *Domain
	if hint != "" {
		for _, d := range r.order {
			if ht, ok := d.typeFor(hint); ok && ht == t {
				found = d
				break
			}
		}
	}
	if found == nil {
		for _, d := range r.order {
			if _, ok := d.classFor(t); ok {
				found = d
				break
			}
		}
	}
	if found == nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnresolvedType, t)
	}
	class, _ := found.classFor(t)
	if hint != "" {
		if ht, ok := found.typeFor(hint); ok && ht == t {
			class = hint
		}
	}
	r.origin[t] = origin{domain: found, class: class}
	return found, class, nil
}

// Serialize encodes v. The flavor's class, when set, is a hint for which
// registration of v's type to use.
func (r *Registry) Serialize(v any, f flavor.Flavor) ([]byte, error) {
	if v == nil {
		return nil, errors.New("objser: nil value")
	}
	d, class, err := r.resolve(reflect.TypeOf(v), f.Class())
	if err != nil {
		return nil, err
	}
	env := envelope{Domain: d.name, Class: class}
	if msg, ok := v.(proto.Message); ok {
		b, err := r.po.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("objser: marshal %s: %w", class, err)
		}
		if env.Body, err = r.enc.Marshal(b); err != nil {
			return nil, fmt.Errorf("objser: wrap %s: %w", class, err)
		}
		env.Kind = bodyProto
	} else {
		if env.Body, err = r.enc.Marshal(v); err != nil {
			return nil, fmt.Errorf("objser: marshal %s: %w", class, err)
		}
	}
	return r.enc.Marshal(env)
}

// Deserialize decodes data into a fresh value of the type its envelope names.
func (r *Registry) Deserialize(data []byte, _ flavor.Flavor) (any, error) {
	var env envelope
	if err := r.dec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("objser: envelope: %w", err)
	}
	r.mu.Lock()
	d, ok := r.domains[env.Domain]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: domain %q", ErrUnresolvedType, env.Domain)
	}
	t, ok := d.typeFor(env.Class)
	if !ok {
		return nil, fmt.Errorf("%w: %s in domain %q", ErrUnresolvedType, env.Class, env.Domain)
	}

	if env.Kind == bodyProto {
		if t.Kind() != reflect.Pointer {
			return nil, fmt.Errorf("%w: %s is not a message pointer", ErrUnresolvedType, env.Class)
		}
		msg, ok := reflect.New(t.Elem()).Interface().(proto.Message)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a proto message", ErrUnresolvedType, env.Class)
		}
		var b []byte
		if err := r.dec.Unmarshal(env.Body, &b); err != nil {
			return nil, fmt.Errorf("objser: unwrap %s: %w", env.Class, err)
		}
		if err := proto.Unmarshal(b, msg); err != nil {
			return nil, fmt.Errorf("objser: unmarshal %s: %w", env.Class, err)
		}
		return msg, nil
	}

	p := reflect.New(t)
	if err := r.dec.Unmarshal(env.Body, p.Interface()); err != nil {
		return nil, fmt.Errorf("objser: unmarshal %s: %w", env.Class, err)
	}
	return p.Elem().Interface(), nil
}

// Copy returns a deep copy of v made by a serialize and deserialize round
// trip.
func (r *Registry) Copy(v any, f flavor.Flavor) (any, error) {
	b, err := r.Serialize(v, f)
	if err != nil {
		return nil, err
	}
	return r.Deserialize(b, f)
}
