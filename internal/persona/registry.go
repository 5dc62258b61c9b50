package persona

import "fmt"

// Registry is populated once at startup and read-only afterwards.
type Registry struct {
	byName map[Name]Descriptor
}

// NewRegistry builds and validates the registry. Any error is a startup fault.
func NewRegistry(v Voices) (*Registry, error) {
	return NewRegistryFrom(Defaults(v))
}

func NewRegistryFrom(descs []Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[Name]Descriptor, len(descs))}
	for _, d := range descs {
		switch d.Name {
		case Router, Support, Booking:
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownPersona, d.Name)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate %q", ErrInvalidDescriptor, d.Name)
		}
		r.byName[d.Name] = d
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Lookup(name Name) (Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownPersona, name)
	}
	return d, nil
}

// MustLookup is for names the registry has already validated.
func (r *Registry) MustLookup(name Name) Descriptor {
	d, err := r.Lookup(name)
	if err != nil {
		panic(err)
	}
	return d
}

// Validate checks that all three personas exist and their transition sets
// match the routing topology.
func (r *Registry) Validate() error {
	for _, n := range []Name{Router, Support, Booking} {
		d, ok := r.byName[n]
		if !ok {
			return fmt.Errorf("%w: %q not registered", ErrUnknownPersona, n)
		}
		if d.VoiceID == "" {
			return fmt.Errorf("%w: %q has no voice", ErrInvalidDescriptor, n)
		}
		if d.DisplayName == "" {
			return fmt.Errorf("%w: %q has no display name", ErrInvalidDescriptor, n)
		}
		if !d.Allows(End) {
			return fmt.Errorf("%w: %q cannot end the conversation", ErrInvalidDescriptor, n)
		}
		if n == Router {
			if !d.Allows(ToSupport) || !d.Allows(ToBooking) {
				return fmt.Errorf("%w: router must reach support and booking", ErrInvalidDescriptor)
			}
			if d.Allows(ToRouter) {
				return fmt.Errorf("%w: router allows a self transition", ErrInvalidDescriptor)
			}
			continue
		}
		if !d.Allows(ToRouter) {
			return fmt.Errorf("%w: %q cannot return to router", ErrInvalidDescriptor, n)
		}
	}
	return nil
}

// Voices lists every distinct voice id, for health checks.
func (r *Registry) Voices() map[Name]string {
	out := make(map[Name]string, len(r.byName))
	for n, d := range r.byName {
		out[n] = d.VoiceID
	}
	return out
}
