// Package inspect renders arbitrary Go values as deterministic, human readable
// text for console capture. Unlike fmt, it never fails: cyclic containers are
// cut with CircularMarker and values that cannot be encoded structurally are
// replaced by UnserializableMarker.
//
// Rendering rules, in order of precedence:
//
//   - nil (including typed nil pointers, maps, slices and funcs) renders as null,
//     Undefined as undefined
//   - bools and numbers use their default text; NaN and infinities render as
//     NaN, Infinity and -Infinity
//   - *big.Int renders its digits followed by n
//   - *Map and *Set render as Map(n) { k => v, ... } and Set(n) { e, ... };
//     Go maps with struct{} values render as sets with sorted elements
//   - errors render with %+v so wrapped traces are kept
//   - fmt.Stringer values render through String
//   - funcs render as [Function: name] or [Function (anonymous)]
//   - everything else is encoded as JSON
//
// Strings are only quoted when nested inside a container; Format passes
// top-level string arguments through unchanged.
package inspect
