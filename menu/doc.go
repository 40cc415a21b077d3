// Package menu holds the read-only per-restaurant catalog and the matcher
// that resolves spoken item names against it.
//
// The catalog is fetched once per session and passed explicitly into the
// matcher — never cached behind a global. A shared cache keyed carelessly
// is exactly the cross-tenant defect class this system has been bitten by;
// explicit plumbing rules it out by construction.
//
// Matching is deterministic: the same extracted name against the same
// catalog always yields the same entry and confidence. Below the configured
// minimum confidence an item is reported unmatched rather than
// force-assigned, because auto-assigning a low-confidence match is a
// billing hazard, not a UX nuance.
package menu
