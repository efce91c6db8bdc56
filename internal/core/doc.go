// Package core is the service layer between the HTTP API and the mapper.
//
// It owns three things:
//
//   - Mappings: named schemas bound to a backend, read from YAML files in the
//     mapping directory ([LoadMappingDir]) and kept in a package registry.
//     [Service.RegisterMappings] validates every schema against the entity
//     catalog before swapping the registry, so a broken file never replaces
//     a working set. A [Watcher] reloads the directory when it changes.
//   - Loads: [Service.StartLoad] reads the document, takes a slot from the
//     [LoadLimiter] and runs the load in the background under the configured
//     timeout. [Service.Wait] and [Service.Result] report the [LoadRecord];
//     [Service.RunLoad] does both in one call. Finished records are dropped
//     after the result TTL.
//   - Error codes: [MapError] turns any error into a [UserMessage] with a
//     support code (MAP, SCH, SRC, DB, LOAD, RATE, ERR000).
//
// A load is "clean" when every node loaded, "partial" when some nodes were
// skipped with recoverable errors and "failed" when a fatal error stopped it.
package core
