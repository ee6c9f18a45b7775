package query

// RewriteFields returns a copy of p where every field name is replaced by
// rename(name). The first rename error aborts the rewrite.
func RewriteFields(p Predicate, rename func(field string) (string, error)) (Predicate, error) {
	out := Predicate{Op: p.Op, Value: p.Value}
	if p.Field != "" {
		f, err := rename(p.Field)
		if err != nil {
			return Predicate{}, err
		}
		out.Field = f
	}
	if len(p.Children) > 0 {
		out.Children = make([]Predicate, len(p.Children))
		for i, c := range p.Children {
			rc, err := RewriteFields(c, rename)
			if err != nil {
				return Predicate{}, err
			}
			out.Children[i] = rc
		}
	}
	return out, nil
}

// Resolved returns a copy of p where every deferred value has been evaluated.
// Backends that push predicates to a remote engine call it once per request.
func Resolved(p Predicate) (Predicate, error) {
	out := Predicate{Op: p.Op, Field: p.Field}
	if p.IsLeaf() {
		v, err := ResolveValue(p.Value)
		if err != nil {
			return Predicate{}, err
		}
		if list, ok := v.([]any); ok {
			resolved := make([]any, len(list))
			for i, item := range list {
				if resolved[i], err = ResolveValue(item); err != nil {
					return Predicate{}, err
				}
			}
			v = resolved
		}
		out.Value = v
	}
	if len(p.Children) > 0 {
		out.Children = make([]Predicate, len(p.Children))
		for i, c := range p.Children {
			rc, err := Resolved(c)
			if err != nil {
				return Predicate{}, err
			}
			out.Children[i] = rc
		}
	}
	return out, nil
}
