package oplog

import "strconv"

// Index is a 1-based position in a worker's oplog.
type Index uint64

const (
	// None is the position before the first entry.
	None Index = 0
	// Initial is the position of the worker's create entry.
	Initial Index = 1
)

// IndexFromUint64 converts a raw integer (flag values, database columns).
func IndexFromUint64(n uint64) Index {
	return Index(n)
}

// Uint64 returns the raw position.
func (i Index) Uint64() uint64 {
	return uint64(i)
}

// Next returns the following position.
func (i Index) Next() Index {
	return i + 1
}

// Previous returns the preceding position. None has no predecessor.
func (i Index) Previous() Index {
	if i == None {
		return None
	}
	return i - 1
}

// RangeEnd returns the last index of a range of count entries starting at i.
func (i Index) RangeEnd(count uint64) Index {
	if count == 0 {
		return i.Previous()
	}
	return i + Index(count) - 1
}

func (i Index) String() string {
	return strconv.FormatUint(uint64(i), 10)
}
