package tabular

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Aggregation names a reduction applied to each group.
type Aggregation string

const (
	AggSum    Aggregation = "sum"
	AggMean   Aggregation = "mean"
	AggMedian Aggregation = "median"
	AggMin    Aggregation = "min"
	AggMax    Aggregation = "max"
	AggCount  Aggregation = "count"
	AggSize   Aggregation = "size"
	AggNUniq  Aggregation = "nunique"
	AggFirst  Aggregation = "first"
	AggLast   Aggregation = "last"
	AggStd    Aggregation = "std"
	AggVar    Aggregation = "var"
	AggProd   Aggregation = "prod"
)

// Aggregations lists the supported reductions in documentation order.
var Aggregations = []Aggregation{
	AggSum, AggMean, AggMedian, AggMin, AggMax, AggCount, AggSize,
	AggNUniq, AggFirst, AggLast, AggStd, AggVar, AggProd,
}

// AggregationNames returns Aggregations as plain strings.
func AggregationNames() []string {
	names := make([]string, len(Aggregations))
	for i, a := range Aggregations {
		names[i] = string(a)
	}
	return names
}

// ParseAggregation validates an aggregation name.
func ParseAggregation(name string) (Aggregation, error) {
	agg := Aggregation(strings.TrimSpace(name))
	if slices.Contains(Aggregations, agg) {
		return agg, nil
	}
	return "", fmt.Errorf("%w %q (expected one of %s)", ErrUnknownAggregation, name, strings.Join(AggregationNames(), ", "))
}

func (a Aggregation) numericOnly() bool {
	switch a {
	case AggSum, AggMean, AggMedian, AggStd, AggVar, AggProd:
		return true
	}
	return false
}

type group struct {
	key  []any
	rows []int
}

// GroupAggregate groups rows by the by columns and reduces value within each
// group. Rows with a missing key are dropped. Groups come out sorted
// ascending by key tuple. The result has columns by followed by value.
func GroupAggregate(h *Handle, by []string, value string, agg Aggregation) (*Handle, error) {
	if len(by) == 0 {
		return nil, fmt.Errorf("at least one group-by column is required")
	}
	if _, err := ParseAggregation(string(agg)); err != nil {
		return nil, err
	}

	keys := make([]*Column, len(by))
	for i, name := range by {
		c, err := h.Column(name)
		if err != nil {
			return nil, err
		}
		if slices.Contains(by[:i], name) {
			return nil, fmt.Errorf("group-by column %q listed twice", name)
		}
		keys[i] = c
	}
	if slices.Contains(by, value) {
		return nil, fmt.Errorf("value column %q is also a group-by column", value)
	}
	target, err := h.Column(value)
	if err != nil {
		return nil, err
	}
	if agg.numericOnly() && !numericValues(target) {
		return nil, fmt.Errorf("%w: %s of %q (%s)", ErrNotNumeric, agg, value, target.DType)
	}

	groups := collectGroups(keys, h.Rows())

	out := &Handle{Path: h.Path, Sheet: h.Sheet, rows: len(groups)}
	for i, kc := range keys {
		vals := make([]any, len(groups))
		for g, grp := range groups {
			vals[g] = grp.key[i]
		}
		out.Columns = append(out.Columns, &Column{Name: kc.Name, DType: kc.DType, Values: vals})
	}

	reduced := make([]any, len(groups))
	for g, grp := range groups {
		v, err := reduce(agg, target, grp.rows)
		if err != nil {
			return nil, fmt.Errorf("%s of %q: %w", agg, value, err)
		}
		reduced[g] = v
	}
	dtype, typed := classify(reduced)
	if len(groups) == 0 {
		dtype = emptyResultDType(agg, target.DType)
	}
	out.Columns = append(out.Columns, &Column{Name: target.Name, DType: dtype, Values: typed})
	return out, nil
}

func emptyResultDType(agg Aggregation, source DType) DType {
	switch agg {
	case AggCount, AggSize, AggNUniq:
		return Int64
	case AggMean, AggMedian, AggStd, AggVar:
		return Float64
	}
	return source
}

func numericValues(c *Column) bool {
	if c.DType.Numeric() {
		return true
	}
	if c.DType != Object {
		return false
	}
	for _, v := range c.Values {
		switch v.(type) {
		case nil, int64, float64, bool:
		default:
			return false
		}
	}
	return true
}

func collectGroups(keys []*Column, rows int) []*group {
	index := make(map[string]*group)
	var groups []*group

rowLoop:
	for r := 0; r < rows; r++ {
		key := make([]any, len(keys))
		parts := make([]string, len(keys))
		for i, c := range keys {
			v := c.Values[r]
			if v == nil {
				continue rowLoop
			}
			key[i] = v
			parts[i] = identity(v)
		}
		id := strings.Join(parts, "\x00")
		grp, ok := index[id]
		if !ok {
			grp = &group{key: key}
			index[id] = grp
			groups = append(groups, grp)
		}
		grp.rows = append(grp.rows, r)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		for k := range keys {
			if c := order(groups[i].key[k], groups[j].key[k]); c != 0 {
				return c < 0
			}
		}
		return false
	})
	return groups
}

// identity is a hashable form of a value; equal numbers share one identity
// whatever their Go type.
func identity(v any) string {
	switch x := v.(type) {
	case int64:
		return "n" + strconv.FormatInt(x, 10)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<63 {
			return "n" + strconv.FormatInt(int64(x), 10)
		}
		return "n" + strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return "b" + formatBool(x)
	case time.Time:
		return "t" + x.UTC().Format(time.RFC3339Nano)
	case string:
		return "s" + x
	default:
		return fmt.Sprintf("?%v", x)
	}
}

// kindRank orders values of different kinds: numbers and booleans first,
// then datetimes, then text.
func kindRank(v any) int {
	switch v.(type) {
	case int64, float64, bool:
		return 0
	case time.Time:
		return 1
	default:
		return 2
	}
}

// order is a total order over present values, used for sorting group keys.
func order(a, b any) int {
	ra, rb := kindRank(a), kindRank(b)
	if ra != rb {
		return ra - rb
	}
	c, _ := compare(a, b)
	return c
}

// compare orders two present values of comparable kinds.
func compare(a, b any) (int, error) {
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			if ia, ok := a.(int64); ok {
				if ib, ok := b.(int64); ok {
					return cmpOrdered(ia, ib), nil
				}
			}
			return cmpOrdered(fa, fb), nil
		}
	}
	switch x := a.(type) {
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), nil
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	}
	return 0, fmt.Errorf("%w: %T and %T", ErrIncomparable, a, b)
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func asInt(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case bool:
		if x {
			return 1
		}
	}
	return 0
}

func reduce(agg Aggregation, c *Column, rows []int) (any, error) {
	present := make([]any, 0, len(rows))
	for _, r := range rows {
		if v := c.Values[r]; v != nil {
			present = append(present, v)
		}
	}

	switch agg {
	case AggSize:
		return int64(len(rows)), nil
	case AggCount:
		return int64(len(present)), nil
	case AggNUniq:
		seen := make(map[string]bool, len(present))
		for _, v := range present {
			seen[identity(v)] = true
		}
		return int64(len(seen)), nil
	case AggFirst:
		if len(present) == 0 {
			return nil, nil
		}
		return present[0], nil
	case AggLast:
		if len(present) == 0 {
			return nil, nil
		}
		return present[len(present)-1], nil
	case AggMin, AggMax:
		return extreme(agg, present)
	}

	nums := make([]float64, len(present))
	allInts := c.DType != Float64
	for i, v := range present {
		nums[i], _ = asFloat(v)
		if _, ok := v.(float64); ok {
			allInts = false
		}
	}

	switch agg {
	case AggSum:
		if allInts {
			var total int64
			for _, v := range present {
				total += asInt(v)
			}
			return total, nil
		}
		total := 0.0
		for _, n := range nums {
			total += n
		}
		return total, nil
	case AggProd:
		if allInts {
			total := int64(1)
			for _, v := range present {
				total *= asInt(v)
			}
			return total, nil
		}
		total := 1.0
		for _, n := range nums {
			total *= n
		}
		return total, nil
	case AggMean:
		if len(nums) == 0 {
			return nil, nil
		}
		return mean(nums), nil
	case AggMedian:
		if len(nums) == 0 {
			return nil, nil
		}
		return median(nums), nil
	case AggVar, AggStd:
		if len(nums) < 2 {
			return nil, nil
		}
		v := variance(nums)
		if agg == AggStd {
			return math.Sqrt(v), nil
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownAggregation, agg)
}

func extreme(agg Aggregation, present []any) (any, error) {
	if len(present) == 0 {
		return nil, nil
	}
	best := present[0]
	for _, v := range present[1:] {
		c, err := compare(v, best)
		if err != nil {
			return nil, err
		}
		if (agg == AggMin && c < 0) || (agg == AggMax && c > 0) {
			best = v
		}
	}
	return best, nil
}

func mean(nums []float64) float64 {
	total := 0.0
	for _, n := range nums {
		total += n
	}
	return total / float64(len(nums))
}

func median(nums []float64) float64 {
	sorted := slices.Clone(nums)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// variance is the sample variance (n-1 denominator).
func variance(nums []float64) float64 {
	m := mean(nums)
	ss := 0.0
	for _, n := range nums {
		d := n - m
		ss += d * d
	}
	return ss / float64(len(nums)-1)
}
