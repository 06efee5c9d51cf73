// Package all wires the built-in blob backends into the blob registry.
//
// Importing it for side effects makes these kinds available:
//
//   - "filesystem" (csvpipeline/internal/blob/local)
//   - "s3"         (csvpipeline/internal/blob/s3)
package all

import (
	_ "csvpipeline/internal/blob/local"
	_ "csvpipeline/internal/blob/s3"
)
