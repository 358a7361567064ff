// Package fork creates new workers from a prefix of an existing worker's
// oplog and rewinds workers by appending revert entries.
//
// A forked worker shares nothing with its source after the copy: the entries
// up to the cut are duplicated byte for byte and the target then appends to
// its own log. Replaying the target reproduces the source's decisions up to
// the cut, then the target goes live.
package fork
