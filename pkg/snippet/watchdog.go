package snippet

import (
	"context"
	"errors"
	"runtime/metrics"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"
)

// sampleInterval is how often heap growth is checked.
const sampleInterval = 20 * time.Millisecond

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// watch interrupts vm when ctx ends or the live heap grows more than limit
// bytes past its level at start. The heap is process-wide, so concurrent
// snippets share the headroom.
func watch(ctx context.Context, vm *goja.Runtime, limit int64, done <-chan struct{}) {
	sample := []metrics.Sample{{Name: heapObjectsMetric}}
	heap := func() int64 {
		metrics.Read(sample)
		if sample[0].Value.Kind() != metrics.KindUint64 {
			return 0
		}
		return int64(sample[0].Value.Uint64())
	}
	baseline := heap()

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				vm.Interrupt(ErrSnippetTimeout)
			} else {
				vm.Interrupt(ctx.Err())
			}
			return
		case <-ticker.C:
			if grown := heap() - baseline; grown > limit {
				log.Warn().
					Int64("grown_bytes", grown).
					Int64("limit_bytes", limit).
					Msg("Snippet heap ceiling reached")
				vm.Interrupt(ErrMemoryLimit)
				return
			}
		}
	}
}
