/*
Package tkv implements a typed access layer on top of embedded, ordered,
byte-oriented key-value stores (Bolt, Badger, Pebble, or an in-memory store).

We implement:

1. Schemas, compile-time associations of a table name with a key type and
a value type, checked via generics (plus a runtime guard against reusing
a table name with different types).

2. Codecs, pluggable encode/decode pairs for keys and values. Built-in key
codecs cover all fixed-width integers, strings and raw bytes, and preserve
the natural ordering of the key type in the encoded bytes, so range queries
executed by the engine on raw byte ranges return keys in the right order.

3. Trees, schema-bound views over cached table handles, with typed get,
insert, remove, iteration, range scans and atomic batches.

4. Transactions, atomic multi-tree closures with bounded retry under write
conflicts, driven by a pluggable backoff policy.

# Technical Details

**Engines.**
The storage engine is a pluggable seam. Bolt stores each table in a root
bucket; Badger and Pebble simulate tables via key prefixes (table name plus
a NUL separator); the in-memory engine keeps a btree per table. This layer
owns no durability, compaction or on-disk format of its own.

**Key encoding.**
Unsigned integers encode as fixed-width big-endian. Signed integers
additionally flip the sign bit so that two's-complement order matches
byte-lexicographic order. Strings encode as raw UTF-8.

**Conflicts.**
Transactions retry only when the engine reports a conflict. Badger detects
conflicts optimistically (SSI) at commit; the in-memory engine validates the
transaction's read set at commit, first committer wins. Bolt and Pebble
serialize writers, so their transactions never conflict.
*/
package tkv
