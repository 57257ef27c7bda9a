package broker

import (
	"context"
	"encoding/json"
)

// ArgResolver supplies a handler's decoded argument value. It is the
// narrow interface the core depends on for dependency injection:
// the broker never reflects over a handler's
// parameter list itself, it asks the resolver to produce the one
// value a wrapped handler expects.
//
// A full reflective DI container is an external collaborator; it
// plugs in by implementing this interface. DefaultResolver below is
// the batteries-included implementation used when none is supplied.
type ArgResolver interface {
	// Resolve decodes payload (the result of Decode) and msg into
	// target, a pointer to the handler's declared parameter type.
	Resolve(ctx context.Context, payload any, msg *CanonicalMessage, target any) error
}

// DefaultResolver implements ArgResolver with by-name matching: a
// struct/map payload round-trips through JSON into target's fields
// (matching by json tag or field name); a string or []byte payload is
// assigned directly when target has that type, a *any target receives
// the payload as is, and every other payload round-trips through JSON.
type DefaultResolver struct{}

func (DefaultResolver) Resolve(_ context.Context, payload any, _ *CanonicalMessage, target any) error {
	switch t := target.(type) {
	case *any:
		*t = payload
		return nil
	case *string:
		if s, ok := payload.(string); ok {
			*t = s
			return nil
		}
	case *[]byte:
		if b, ok := payload.([]byte); ok {
			*t = b
			return nil
		}
	}

	// Structured or numeric payload: round-trip through JSON so a
	// handler's struct parameter receives the whole decoded payload
	// coerced to that type (single structured param), and scalar
	// fields map by name (multiple scalar params via a struct).
	raw, err := json.Marshal(payload)
	if err != nil {
		return ErrHandlerInvocation(err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return ErrHandlerInvocation(err)
	}
	return nil
}
