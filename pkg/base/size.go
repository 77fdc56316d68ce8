package base

// Per-value overheads used by EstimateSize. They deliberately round up so
// that the estimate does not fall below the JSON encoding for common shapes.
const (
	scalarOverhead = 8
	entryOverhead  = 4
	containerBytes = 16
)

// EstimateSize approximates the memory held by v, walking nested maps and
// slices. It is never smaller than the number of key and string bytes.
func EstimateSize(v any) int {
	switch t := v.(type) {
	case nil:
		return scalarOverhead
	case string:
		return len(t) + entryOverhead
	case bool, float64, float32, int, int64, int32, uint, uint64, uint32:
		return scalarOverhead
	case Base:
		return estimateMap(t)
	case map[string]any:
		return estimateMap(t)
	case []any:
		n := containerBytes
		for _, e := range t {
			n += EstimateSize(e) + 1
		}
		return n
	default:
		return containerBytes
	}
}

func estimateMap(m map[string]any) int {
	n := containerBytes
	for k, v := range m {
		n += len(k) + entryOverhead + EstimateSize(v)
	}
	return n
}
