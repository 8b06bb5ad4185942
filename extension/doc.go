// Package extension provides run-time registries that let a dispatch group
// work with user-defined Go types (for example custom task payloads) and
// resolve computations by name across process boundaries.
//
// The registries are normally modified through the public APIs under the
// root fanout package, therefore most applications do not need to import
// this package directly.
package extension
