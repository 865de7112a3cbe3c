package registry

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// overload is one registered arity/type-shape variant of a method.
type overload struct {
	argTypes []reflect.Type // element may be nil to mean "any"
	fn       reflect.Value  // func(context.Context, <argTypes...>) (interface{}, error)
	sig      string
}

// MemoryService is a reference Service implementation: methods are
// registered by their native Go function signature (via RegisterFunc)
// and resolved lazily by arity and argument-type shape, per spec §9's
// suggestion ("register each method under a key that incorporates its
// arity and argument-type shape, and resolve lazily").
type MemoryService struct {
	name string

	mu        sync.RWMutex
	overloads map[string][]*overload
}

// NewMemoryService creates an empty service named name.
func NewMemoryService(name string) *MemoryService {
	return &MemoryService{name: name, overloads: make(map[string][]*overload)}
}

func (s *MemoryService) Name() string { return s.name }

// RegisterFunc registers one overload of method. fn must be a Go
// function of the form func(context.Context, A1, A2, ...) (R, error)
// (any number of typed parameters, including zero). The wrapper
// invokes fn via reflection once an incoming call's arguments have
// been matched to this overload.
func (s *MemoryService) RegisterFunc(method string, fn interface{}) {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		panic(fmt.Sprintf("registry: RegisterFunc(%q): not a function", method))
	}
	if ft.NumIn() < 1 || ft.In(0) != reflect.TypeOf((*context.Context)(nil)).Elem() {
		panic(fmt.Sprintf("registry: RegisterFunc(%q): first parameter must be context.Context", method))
	}
	if ft.NumOut() != 2 || ft.Out(1) != reflect.TypeOf((*error)(nil)).Elem() {
		panic(fmt.Sprintf("registry: RegisterFunc(%q): must return (result, error)", method))
	}

	argTypes := make([]reflect.Type, ft.NumIn()-1)
	for i := range argTypes {
		argTypes[i] = ft.In(i + 1)
	}

	ov := &overload{argTypes: argTypes, fn: fv, sig: signatureString(method, argTypes)}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.overloads[method] = append(s.overloads[method], ov)
}

func signatureString(method string, argTypes []reflect.Type) string {
	sig := method + "("
	for i, t := range argTypes {
		if i > 0 {
			sig += ", "
		}
		if t == nil {
			sig += "any"
		} else {
			sig += t.String()
		}
	}
	return sig + ")"
}

// Resolve implements Service. See scoreOverload for the matching
// algorithm.
func (s *MemoryService) Resolve(method string, args []interface{}) (Handler, error) {
	s.mu.RLock()
	candidates := s.overloads[method]
	s.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, &NotFoundError{Service: s.name, Method: method, Arity: len(args)}
	}

	type scored struct {
		ov    *overload
		score int
	}
	var best []scored
	bestScore := -1

	for _, ov := range candidates {
		if len(ov.argTypes) != len(args) {
			continue
		}
		score, ok := scoreOverload(ov, args)
		if !ok {
			continue
		}
		switch {
		case score > bestScore:
			bestScore = score
			best = []scored{{ov, score}}
		case score == bestScore:
			best = append(best, scored{ov, score})
		}
	}

	if len(best) == 0 {
		return nil, &NotFoundError{Service: s.name, Method: method, Arity: len(args)}
	}
	if len(best) > 1 {
		sigs := make([]string, len(best))
		for i, b := range best {
			sigs[i] = b.ov.sig
		}
		return nil, &AmbiguousError{Service: s.name, Method: method, Candidates: sigs}
	}

	ov := best[0].ov
	return func(ctx context.Context, args []interface{}) (interface{}, error) {
		in := make([]reflect.Value, len(args)+1)
		in[0] = reflect.ValueOf(ctx)
		for i, a := range args {
			in[i+1] = convertArg(a, ov.argTypes[i])
		}
		out := ov.fn.Call(in)
		var err error
		if e, ok := out[1].Interface().(error); ok {
			err = e
		}
		return out[0].Interface(), err
	}, nil
}

// scoreOverload reports whether every argument is compatible with
// ov's declared parameter types, and if so a score that favors exact
// type matches over interface-satisfying matches. A nil parameter
// type is a wildcard that always matches at the lowest score.
//
// Go's static typing means two *distinct concrete types* can never
// both be the exact type of one runtime value, so true "ambiguity" in
// the C#/dynamic sense only arises when two overloads declare
// interface parameter types that the same concrete argument type
// satisfies simultaneously — that is the case this scoring is built
// to detect (spec §9's open question on overload resolution in a
// statically typed host language). Numeric conversion also scores 1:
// an integer argument that is not int64 (uint64, int, ...) matches an
// int64 and a float64 parameter equally, so overloads differing only
// in those two types are reported ambiguous for such an argument.
func scoreOverload(ov *overload, args []interface{}) (int, bool) {
	score := 0
	for i, want := range ov.argTypes {
		if want == nil {
			continue
		}
		arg := args[i]
		if arg == nil {
			if isNilable(want) {
				continue
			}
			return 0, false
		}
		got := reflect.TypeOf(arg)
		switch {
		case got == want:
			score += 2
		case got.AssignableTo(want):
			score++
		case isNumericConvertible(got, want):
			score++
		default:
			return 0, false
		}
	}
	return score, true
}

func isNilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
		return true
	default:
		return false
	}
}

// isNumericConvertible lets an integer argument of another Go type
// (such as the uint64 a CBOR decoder yields for non-negative integers
// under its default options) match a parameter declared as int64 or
// float64, rather than forcing every handler author to special-case
// the Go type of small integers.
func isNumericConvertible(got, want reflect.Type) bool {
	if want.Kind() != reflect.Int64 && want.Kind() != reflect.Float64 {
		return false
	}
	switch got.Kind() {
	case reflect.Uint64, reflect.Uint, reflect.Int, reflect.Int32, reflect.Uint32:
		return true
	default:
		return false
	}
}

func convertArg(a interface{}, want reflect.Type) reflect.Value {
	if a == nil {
		return reflect.Zero(want)
	}
	v := reflect.ValueOf(a)
	if v.Type() == want || v.Type().AssignableTo(want) {
		return v
	}
	if v.Type().ConvertibleTo(want) {
		return v.Convert(want)
	}
	return v
}
