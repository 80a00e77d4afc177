package registry

import "context"

type activeKey struct{}

type activeMarker struct {
	owner any
	h     Handle
}

// WithActive returns a context marking h as the registration currently being
// invoked by this registry's dispatcher. Remove called with such a context for
// the same handle defers the removal instead of waiting on itself.
func (r *Registry[K, V]) WithActive(ctx context.Context, h Handle) context.Context {
	return context.WithValue(ctx, activeKey{}, activeMarker{owner: r, h: h})
}

// Active returns the handle marked by WithActive on ctx, if any.
func Active(ctx context.Context) (Handle, bool) {
	if ctx == nil {
		return Handle{}, false
	}
	m, ok := ctx.Value(activeKey{}).(activeMarker)
	if !ok {
		return Handle{}, false
	}
	return m.h, true
}

// InDispatch reports whether ctx was marked by this registry's dispatcher.
func (r *Registry[K, V]) InDispatch(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	m, ok := ctx.Value(activeKey{}).(activeMarker)
	return ok && m.owner == any(r)
}

func (r *Registry[K, V]) isActive(ctx context.Context, h Handle) bool {
	if ctx == nil {
		return false
	}
	m, ok := ctx.Value(activeKey{}).(activeMarker)
	return ok && m.owner == any(r) && m.h == h
}
