// Package arraystore stores named, growable numeric arrays on a blobstore.
//
// An array is a sequence of immutable parts stored as "<key>/part-NNNNNN".
// Appending writes a new part, so rows that were already persisted are never
// rewritten. Put replaces the array with a single part.
//
// Part layout (little endian):
//
//	magic   [4]byte "ECPA"
//	version uint8
//	dtype   uint8
//	codec   uint8 (compress.Type)
//	_       uint8
//	rows    uint32
//	cols    uint32
//	crc     uint32 (CRC-32C of the block)
//	block   compressed payload
package arraystore
