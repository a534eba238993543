package tkv

import "bytes"

// RawRange defines a range of byte-string keys. The constructors use
// mnemonics: O means open, I means inclusive, E means exclusive; the first
// letter is for the lower bound, the second for the upper bound.
type RawRange struct {
	Lower    []byte
	Upper    []byte
	LowerInc bool
	UpperInc bool
	Reverse  bool
}

func RawOO() RawRange            { return RawRange{} }
func RawIO(l []byte) RawRange    { return RawRange{Lower: l, LowerInc: true} }
func RawEO(l []byte) RawRange    { return RawRange{Lower: l} }
func RawOI(u []byte) RawRange    { return RawRange{Upper: u, UpperInc: true} }
func RawOE(u []byte) RawRange    { return RawRange{Upper: u} }
func RawII(l, u []byte) RawRange { return RawRange{Lower: l, Upper: u, LowerInc: true, UpperInc: true} }
func RawIE(l, u []byte) RawRange { return RawRange{Lower: l, Upper: u, LowerInc: true} }
func RawEI(l, u []byte) RawRange { return RawRange{Lower: l, Upper: u, UpperInc: true} }
func RawEE(l, u []byte) RawRange { return RawRange{Lower: l, Upper: u} }

func (rang RawRange) Reversed() RawRange { rang.Reverse = true; return rang }

// prefixed shifts the range into the keyspace of a prefix-simulated table:
// both bounds gain the prefix, and open bounds close over the prefix
// itself. Used by engines that store tables as key prefixes.
func (rang RawRange) prefixed(prefix []byte) RawRange {
	out := rang
	if rang.Lower != nil {
		out.Lower = concat(prefix, rang.Lower)
	} else {
		out.Lower = bytes.Clone(prefix)
		out.LowerInc = true
	}
	if rang.Upper != nil {
		out.Upper = concat(prefix, rang.Upper)
	} else {
		out.Upper = prefixSuccessor(prefix)
		out.UpperInc = false
	}
	return out
}

// seekCursor is the positioning surface shared by engines whose native
// cursors can move both ways (Bolt, Pebble, the memory engine). RawRange
// drives it to implement bounded forward and reverse scans.
type seekCursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)
	Seek(seek []byte) (key, value []byte) // first key >= seek
	Next() (key, value []byte)
	Prev() (key, value []byte)
}

// start positions the cursor on the first in-range pair, or returns nils.
func (r *RawRange) start(c seekCursor) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		if r.Upper != nil {
			k, v = c.Seek(r.Upper)
			if k == nil {
				k, v = c.Last()
			} else if !(r.UpperInc && bytes.Equal(k, r.Upper)) {
				k, v = c.Prev()
			}
		} else {
			k, v = c.Last()
		}
	} else {
		if r.Lower != nil {
			k, v = c.Seek(r.Lower)
			if k != nil && !r.LowerInc && bytes.Equal(k, r.Lower) {
				k, v = c.Next()
			}
		} else {
			k, v = c.First()
		}
	}
	if k != nil && r.match(k) {
		return k, v
	}
	return nil, nil
}

// next advances past the current pair, or returns nils at the range end.
func (r *RawRange) next(c seekCursor) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		k, v = c.Prev()
	} else {
		k, v = c.Next()
	}
	if k != nil && r.match(k) {
		return k, v
	}
	return nil, nil
}

// match reports whether k is still inside the bound that iteration is
// moving toward. The bound behind the direction of travel was handled by
// start and needs no rechecking.
func (r *RawRange) match(k []byte) bool {
	if r.Reverse {
		if lower := r.Lower; lower != nil {
			cmp := bytes.Compare(k, lower)
			if cmp < 0 || (cmp == 0 && !r.LowerInc) {
				return false
			}
		}
	} else {
		if upper := r.Upper; upper != nil {
			cmp := bytes.Compare(k, upper)
			if cmp > 0 || (cmp == 0 && !r.UpperInc) {
				return false
			}
		}
	}
	return true
}

// seekScanCursor adapts a seekCursor to the engineCursor contract.
type seekScanCursor struct {
	rang  RawRange
	c     seekCursor
	strip int // prefix length to drop from yielded keys
	close func() error
	k, v  []byte
	init  bool
}

func (sc *seekScanCursor) Next() bool {
	if sc.init {
		sc.k, sc.v = sc.rang.next(sc.c)
	} else {
		sc.init = true
		sc.k, sc.v = sc.rang.start(sc.c)
	}
	return sc.k != nil
}

func (sc *seekScanCursor) Key() []byte   { return sc.k[sc.strip:] }
func (sc *seekScanCursor) Value() []byte { return sc.v }
func (sc *seekScanCursor) Err() error    { return nil }

func (sc *seekScanCursor) Close() error {
	if sc.close != nil {
		f := sc.close
		sc.close = nil
		return f()
	}
	return nil
}
