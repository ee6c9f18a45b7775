// Package index implements secondary-index caches: maps from the values of a
// composite index to the identifier of the entity holding them.
//
// A predicate resolves through an index only when its equality constraints bind
// every indexed field to a single value. Extra equality constraints are ignored
// for key construction. Anything less yields Unanswerable and the caller must ask
// the store. A key recorded with an empty identifier is a known-absent marker.
//
// Keys are built by a cache.KeySerializer over the fields in sorted order, with
// predicate values coerced to the declared field types, so int(1) and int64(1)
// address the same entry.
package index
