// Package ir provides the canonical value model used for anything a human or a
// golden file looks at: public oplog projections, scenario traces, CLI JSON.
//
// ir imports nothing internal. Values are a closed set (Null, String, Int,
// Bool, Array, Object); floats are rejected so that the canonical encoding of
// a value is unique.
package ir
