// Package providers contains the capability providers the gateway exposes to
// the language model.
//
// Four providers make up the fixed set, constructed in dependency order by
// NewSet:
//
//   - application_data: reads processed application records (get, search, list)
//   - analysis: scores and compares applications; holds the application_data
//     provider and reads records only through its Application accessor
//   - context: reads and writes the per-session context map, including the
//     currently focused application
//   - processor: reports on the record tree and per-application completeness
//
// Each provider embeds capability.Base and registers its capabilities in a
// setup function that runs once, on first Initialize or Handle.
package providers
