// Package canonical implements the deterministic serialization that feeds
// record fingerprints.
//
// The encoding is compact JSON with mapping keys in code point order. It is
// total over the values decoded from exchange responses (map[string]any,
// []any, json.Number, string, bool, nil) and also accepts arbitrary Go
// maps, slices, pointers and structs.
//
// # Cycles
//
// Reference nodes currently being serialized are tracked by identity. A
// node that is reached again while still in progress fails the whole
// serialization with CircularStructureError, unless Options.AllowCycles is
// set, in which case the string CyclePlaceholder is written in its place.
// The same node appearing twice side by side is not a cycle.
//
// # Stability
//
// Every notarized fingerprint is a digest over this output. Changing the
// encoding silently invalidates all prior notarizations, so the golden
// vectors in the fingerprint package must never be regenerated casually.
package canonical
