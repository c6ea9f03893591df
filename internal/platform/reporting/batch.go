package reporting

import "context"

// BatchFetchFunc loads every child row belonging to any of parents in a
// single round trip.
type BatchFetchFunc[P comparable, C any] func(ctx context.Context, parents []P) ([]C, error)

// BatchGroup resolves the children of parents with one call to fetch and
// groups them by parentOf. Duplicate parents are collapsed before the fetch.
// When there are no parents, fetch is never called and the map is empty.
// Children keep the order fetch returned them in.
func BatchGroup[P comparable, C any](ctx context.Context, parents []P, fetch BatchFetchFunc[P, C], parentOf func(C) P) (map[P][]C, error) {
	grouped := make(map[P][]C)
	keys := uniq(parents)
	if len(keys) == 0 {
		return grouped, nil
	}

	children, err := fetch(ctx, keys)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		p := parentOf(child)
		grouped[p] = append(grouped[p], child)
	}
	return grouped, nil
}

func uniq[P comparable](in []P) []P {
	seen := make(map[P]struct{}, len(in))
	out := make([]P, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
