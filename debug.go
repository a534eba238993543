package tkv

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Count returns the number of entries in the tree. It scans the whole
// table, so on large trees prefer tracking counts at a higher level.
func (t *Tree[K, V]) Count() (int, error) {
	cur, err := t.tbl.Scan(RawOO())
	if err != nil {
		return 0, engineErrf(t.scm.name, "scan", err)
	}
	defer cur.Close()
	var n int
	for cur.Next() {
		n++
	}
	if err := cur.Err(); err != nil {
		return 0, engineErrf(t.scm.name, "scan", err)
	}
	return n, nil
}

// Dump renders the tree's entries as text for debugging and test failure
// output, one line per entry, values as JSON.
func (t *Tree[K, V]) Dump() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s\n", strings.Repeat("=", 40))
	cur, err := t.Scan(All[K]())
	if err != nil {
		fmt.Fprintf(&buf, "%s: ** ERROR: %v\n", t.scm.name, err)
		return buf.String()
	}
	defer cur.Close()
	var rowPos int
	for cur.Next() {
		rowPos++
		v, err := json.Marshal(cur.Value())
		if err != nil {
			fmt.Fprintf(&buf, "%s.%d %v = ** ERROR: %v\n", t.scm.name, rowPos, cur.Key(), err)
			continue
		}
		fmt.Fprintf(&buf, "%s.%d %v = %s\n", t.scm.name, rowPos, cur.Key(), v)
	}
	if err := cur.Err(); err != nil {
		fmt.Fprintf(&buf, "%s: ** ERROR: %v\n", t.scm.name, err)
	}
	if rowPos == 0 {
		fmt.Fprintf(&buf, "%s: <empty>\n", t.scm.name)
	}
	return buf.String()
}
