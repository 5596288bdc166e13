package pagedb

// Comparator orders two values: negative when a sorts before b, zero when they
// are equal, positive when a sorts after b.
type Comparator func(a, b Value) int

var _ Comparator = Compare

// Compare is the single ordering used for primary keys, page order and
// predicates. Null sorts before any non-null value and two nulls are equal.
// Integer and Double compare numerically; other mixed types order by type tag.
func Compare(a, b Value) int {
	switch {
	case a.Null && b.Null:
		return 0
	case a.Null:
		return -1
	case b.Null:
		return 1
	}

	if x, ok := a.numeric(); ok {
		if y, ok := b.numeric(); ok {
			return compareFloat(x, y)
		}
	}
	if a.Type != b.Type {
		return compareInt(int(a.Type), int(b.Type))
	}

	switch a.Type {
	case TypeBoolean:
		if a.b == b.b {
			return 0
		} else if !a.b {
			return -1
		}
		return 1
	case TypeChar, TypeVarchar:
		return BytesComparator([]byte(a.s), []byte(b.s))
	}
	return 0
}

func compareInt(a, b int) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// NaN sorts after every other double so the order stays total.
func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	case a == b:
		return 0
	case a != a && b != b:
		return 0
	case a != a:
		return 1
	}
	return -1
}

func BytesComparator(a, b []byte) int {
	lenA, lenB := len(a), len(b)
	n := lenA
	if lenB < n {
		n = lenB
	}
	for i := 0; i < n; i++ {
		if a[i] < b[i] {
			return -1
		} else if a[i] > b[i] {
			return 1
		}
	}
	return compareInt(lenA, lenB)
}
