package tson

import "context"

// Collect recursively drains every handle reachable from root, yielding a
// plain JSON-compatible tree: promises collapse to their fulfillment,
// sequences to the slice of their values. The first rejection, error end,
// or interruption aborts the collection with that error.
func Collect(ctx context.Context, root any) (any, error) {
	switch v := root.(type) {
	case *Promise:
		val, err := v.Await(ctx)
		if err != nil {
			return nil, err
		}
		return Collect(ctx, val)
	case *Sequence:
		out := make([]any, 0)
		for {
			val, ok, err := v.Next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				return out, nil
			}
			collected, err := Collect(ctx, val)
			if err != nil {
				return nil, err
			}
			out = append(out, collected)
		}
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			collected, err := Collect(ctx, item)
			if err != nil {
				return nil, err
			}
			out[k] = collected
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			collected, err := Collect(ctx, item)
			if err != nil {
				return nil, err
			}
			out[i] = collected
		}
		return out, nil
	default:
		return root, nil
	}
}
