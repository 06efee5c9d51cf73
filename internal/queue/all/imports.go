// Package all wires the built-in queue backends into the queue registry.
//
// Importing it for side effects makes these kinds available:
//
//   - "in_memory" (csvpipeline/internal/queue/memory)
//   - "rabbitmq"  (csvpipeline/internal/queue/rabbitmq)
package all

import (
	_ "csvpipeline/internal/queue/memory"
	_ "csvpipeline/internal/queue/rabbitmq"
)
