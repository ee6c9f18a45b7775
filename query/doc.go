// Package query provides the predicate value type used by repositories, together
// with the analyzer that extracts equality constraints from it.
//
// Predicates are plain values built with Eq, Ne, Gt, Gte, Lt, Lte, In, And, Or and
// Not:
//
//	p := query.And(
//		query.Eq("Email", email),
//		query.Eq("Tenant", query.Member(&session, "Tenant.ID")),
//	)
//
// The value side of a comparison may be deferred through a Valuer (Lazy, Member),
// in which case it is evaluated every time the predicate is analyzed or matched.
//
// ExtractEqualityConstraints collects the equalities of the conjunctive part of a
// predicate. Equalities under Or or Not, and every range comparison, are skipped.
// A field equated to two different values is reported in Constraints.Conflicting
// instead of silently keeping the last value.
package query
