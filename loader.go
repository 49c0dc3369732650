package loam

// keyFunc extracts a grouping key from a record.
type keyFunc func(Record) any

// groupByKey groups records by a key function. Used by the association
// resolver to stitch secondary query results back onto their primary
// rows, one-to-many style.
func groupByKey(rows []Record, key keyFunc) map[any][]Record {
	out := make(map[any][]Record)
	for _, row := range rows {
		k := key(row)
		out[k] = append(out[k], row)
	}
	return out
}

// indexByKey indexes records by a key function, keeping the first
// record per key. Used for single-valued associations.
func indexByKey(rows []Record, key keyFunc) map[any]Record {
	out := make(map[any]Record, len(rows))
	for _, row := range rows {
		k := key(row)
		if _, ok := out[k]; !ok {
			out[k] = row
		}
	}
	return out
}

// collectKeys gathers the distinct, non-nil values of a column across
// records, preserving first-seen order so secondary queries compile
// deterministically.
func collectKeys(rows []Record, column string) []any {
	seen := make(map[any]struct{}, len(rows))
	var out []any
	for _, row := range rows {
		v, ok := row[column]
		if !ok || v == nil {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
