// Package hostcall is the set of host functions a worker may call. Every
// function here goes through the durability layer, so a worker that is
// replayed observes the same values it observed the first time.
package hostcall
