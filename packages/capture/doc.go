// Package capture extracts values from buffered response bodies and checks
// them against JSON schemas.
//
// Paths use gjson syntax, e.g. "data.items.0.id" or "items.#.name".
// A body that is not JSON can only be captured whole, with the empty path.
package capture
