package extension

import "github.com/viant/x"

// Option customizes a computation registry.
type Option func(*Computations)

// WithTypes shares an existing payload type registry instead of creating a
// fresh one.
func WithTypes(types *Types) Option {
	return func(c *Computations) {
		if types != nil {
			c.types = types
		}
	}
}

// WithGoTypes registers payload types on the registry at construction time.
func WithGoTypes(goTypes ...*x.Type) Option {
	return func(c *Computations) {
		for _, t := range goTypes {
			if t != nil {
				c.types.Register(t)
			}
		}
	}
}
