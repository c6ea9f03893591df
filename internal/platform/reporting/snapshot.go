package reporting

import "time"

// SnapshotReducer keeps the most recent row per key from a time series.
// Rows with equal timestamps are resolved by the highest Tiebreak value, so
// a key is never reported twice. Tiebreak may be nil when timestamps are
// known to be unique per key.
type SnapshotReducer[T any, K comparable] struct {
	Key       func(T) K
	Timestamp func(T) time.Time
	Tiebreak  func(T) int64
}

// Reduce returns one row per distinct key, in the order keys first appear.
func (r SnapshotReducer[T, K]) Reduce(rows []T) []T {
	index := make(map[K]int, len(rows))
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		k := r.Key(row)
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, row)
			continue
		}
		if r.newer(row, out[i]) {
			out[i] = row
		}
	}
	return out
}

// Latest returns the most recent row regardless of key.
func (r SnapshotReducer[T, K]) Latest(rows []T) (T, bool) {
	var latest T
	if len(rows) == 0 {
		return latest, false
	}
	latest = rows[0]
	for _, row := range rows[1:] {
		if r.newer(row, latest) {
			latest = row
		}
	}
	return latest, true
}

func (r SnapshotReducer[T, K]) newer(a, b T) bool {
	ta, tb := r.Timestamp(a), r.Timestamp(b)
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	if r.Tiebreak == nil {
		return false
	}
	return r.Tiebreak(a) > r.Tiebreak(b)
}
