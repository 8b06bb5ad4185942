package extension

import (
	"reflect"
	"sync"

	"github.com/viant/x"
)

// Types registers the Go types task payloads may carry, keyed by a stable
// wire name. Transports that serialise envelopes use the registry to decode a
// payload back into its concrete type instead of a generic map.
type Types struct {
	x.Registry
	mux   sync.RWMutex
	names map[reflect.Type]string
}

// Register adds a payload type to the registry
func (t *Types) Register(dataType *x.Type) {
	name := dataType.Name
	if name == "" {
		name = dataType.Type.Name()
	}
	t.mux.Lock()
	t.names[dataType.Type] = name
	t.mux.Unlock()
	t.Registry.Register(dataType)
}

// Lookup returns a payload type from the registry
func (t *Types) Lookup(name string) *x.Type {
	return t.Registry.Lookup(name)
}

// NameOf returns the wire name a payload value was registered under.
func (t *Types) NameOf(value interface{}) (string, bool) {
	if value == nil {
		return "", false
	}
	rType := reflect.TypeOf(value)
	if rType.Kind() == reflect.Ptr {
		rType = rType.Elem()
	}
	t.mux.RLock()
	defer t.mux.RUnlock()
	name, ok := t.names[rType]
	return name, ok
}

// New returns a pointer to a zero value of the named type, or false when the
// name is not registered.
func (t *Types) New(name string) (interface{}, bool) {
	aType := t.Lookup(name)
	if aType == nil {
		return nil, false
	}
	rType := aType.Type
	if rType.Kind() == reflect.Ptr {
		rType = rType.Elem()
	}
	return reflect.New(rType).Interface(), true
}

// NewTypes creates a new types
func NewTypes(options ...x.RegistryOption) *Types {
	result := &Types{
		Registry: *x.NewRegistry(options...),
		names:    make(map[reflect.Type]string),
	}
	return result
}
