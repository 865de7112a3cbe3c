// Package registry defines the contract between the Request Dispatcher
// and the service implementations it invokes (spec §6: "the service
// registry that maps RPC names to handler implementations" is an
// external collaborator). This package ships the contract plus a
// reference in-memory implementation with reflection-based overload
// resolution (spec §4.6, §8.6, §9) so the dispatcher can be exercised
// and tested without a real application registry.
package registry

import (
	"context"
	"strconv"
)

// Handler is a resolved, ready-to-invoke method body. It receives the
// already-typechecked arguments in declaration order.
type Handler func(ctx context.Context, args []interface{}) (interface{}, error)

// Service is one RPC service: a named group of methods, each
// potentially overloaded by arity and argument type.
type Service interface {
	// Name returns the service's registered name.
	Name() string

	// Resolve picks the single best-matching overload of method for
	// the given arguments, per spec §4.6/§9: keyed lazily by arity and
	// argument-type shape. Returns a *NotFoundError if no overload
	// matches, or an *AmbiguousError if more than one matches equally
	// well.
	Resolve(method string, args []interface{}) (Handler, error)
}

// Registry maps a service name to its Service, as referenced by the
// Request Dispatcher (spec §4.6).
type Registry interface {
	Resolve(serviceName string) (Service, bool)
}

// NotFoundError indicates no overload of the requested method matched
// the given argument count/types. The dispatcher translates this to
// rpcerr.ServiceNotFound.
type NotFoundError struct {
	Service string
	Method  string
	Arity   int
}

func (e *NotFoundError) Error() string {
	return "no method " + e.Service + "." + e.Method + " accepting " + strconv.Itoa(e.Arity) + " argument(s)"
}

// AmbiguousError indicates more than one overload matched equally
// well. Message lists the candidate signatures, and always contains
// the word "Ambiguous" per spec §4.6/§8.6.
type AmbiguousError struct {
	Service    string
	Method     string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	msg := "Ambiguous call to " + e.Service + "." + e.Method + ": candidates "
	for i, c := range e.Candidates {
		if i > 0 {
			msg += ", "
		}
		msg += c
	}
	return msg
}
