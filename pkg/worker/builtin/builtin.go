// Package builtin provides the runnable task types shipped with every
// worker: log, sleep, fail, return, output, transform and http-request.
package builtin

import (
	"github.com/kestrelflow/kestrel/pkg/worker"
)

// Register adds every builtin runnable factory to the registry.
func Register(registry *worker.Registry) {
	registry.Register(NewLogFactory())
	registry.Register(NewSleepFactory())
	registry.Register(NewFailFactory())
	registry.Register(NewReturnFactory())
	registry.Register(NewOutputFactory())
	registry.Register(NewTransformFactory())
	registry.Register(NewHTTPRequestFactory())
}
