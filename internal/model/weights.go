package model

// Weights is the tensor abstraction the aggregator operates over: a
// mapping from parameter name to a flat array of values. Any backing
// representation (native slices here, an external math library in a
// larger deployment) satisfies the aggregator as long as shape equality
// between two Weights is decidable, which SameShape below provides.
type Weights map[string][]float64

// SameShape reports whether w and other declare the same parameter
// names with matching lengths. Used to detect heterogeneous updates
// before aggregation.
func (w Weights) SameShape(other Weights) bool {
	if len(w) != len(other) {
		return false
	}
	for name, vals := range w {
		ov, ok := other[name]
		if !ok || len(ov) != len(vals) {
			return false
		}
	}
	return true
}

// ParamNames returns the parameter names in w. Order is not stable;
// callers that need determinism sort the result.
func (w Weights) ParamNames() []string {
	names := make([]string, 0, len(w))
	for name := range w {
		names = append(names, name)
	}
	return names
}

// Clone returns a deep copy, used when handing weights across a
// component boundary so callbacks observe an immutable snapshot.
func (w Weights) Clone() Weights {
	out := make(Weights, len(w))
	for name, vals := range w {
		cp := make([]float64, len(vals))
		copy(cp, vals)
		out[name] = cp
	}
	return out
}

// ScaleAddInto multiplies src by scalar and accumulates the result into
// dst, allocating dst[name] on first use. dst and src must agree on
// vector length for the given name; callers are expected to have
// checked SameShape beforehand.
func ScaleAddInto(dst Weights, name string, src []float64, scalar float64) {
	acc, ok := dst[name]
	if !ok {
		acc = make([]float64, len(src))
		dst[name] = acc
	}
	for i, v := range src {
		acc[i] += scalar * v
	}
}
