package comm

// Datatype describes the portable external byte layout of one element of a
// packed frame. In the external representation integers are big-endian
// fixed width and byte blocks are written as-is, so the extent of a series
// is the sum of its members' extents. All file displacement arithmetic
// must use extents, never in-memory sizes.
type Datatype struct {
	extent int64
}

// U32 is a 4-byte unsigned integer.
func U32() Datatype { return Datatype{extent: 4} }

// U64 is an 8-byte unsigned integer.
func U64() Datatype { return Datatype{extent: 8} }

// Bytes is a fixed block of n bytes.
func Bytes(n int) Datatype { return Datatype{extent: int64(n)} }

// Series concatenates parts into one composite element.
func Series(parts ...Datatype) Datatype {
	var sum int64
	for _, p := range parts {
		sum += p.extent
	}
	return Datatype{extent: sum}
}

// Extent returns the advance distance between consecutive elements of this
// type in the external representation.
func (t Datatype) Extent() int64 { return t.extent }
