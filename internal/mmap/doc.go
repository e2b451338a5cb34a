// Package mmap provides read-only memory-mapped file access.
//
// # Usage
//
//	m, err := mmap.Open("embeddings.fvecs")
//	if err != nil { ... }
//	defer m.Close()
//
//	m.Advise(mmap.AccessRandom)
//	data := m.Bytes()
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with madvise(2) for access hints
//   - Others: the file is read into memory and Advise is a no-op
//
// A File is safe for concurrent reads. Callers must not touch Bytes() after Close().
package mmap
