// Package tracking runs the per-tab face detection loop over camera frames.
//
// The detector is an opaque, possibly absent capability: the loop polls its
// Loader until a model is ready and treats zero faces as a normal result.
package tracking
