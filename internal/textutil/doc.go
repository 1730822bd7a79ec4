// Package textutil provides text cleanup, chunking, and content hashing for
// the translation and synthesis steps.
//
// The primary use cases are:
//   - Normalizing transcript text before translation
//   - Splitting long text into synthesizer-sized chunks on sentence and
//     clause boundaries
//   - Deriving stable cache keys from text content
package textutil
