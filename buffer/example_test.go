package buffer_test

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anandphulwani/sentry/buffer"
	"github.com/anandphulwani/sentry/buffer/backend"
)

func ExampleNew() {
	buf := buffer.New(
		buffer.WithStrategy(buffer.Interval),
		buffer.WithFlushInterval(5*time.Second),
	)
	defer buf.Close()

	fmt.Println("buffer created")
	// Output: buffer created
}

func ExampleBuffer_ProcessPending() {
	buf := buffer.New(
		buffer.WithBackend(backend.NewMemoryBackend()),
		buffer.WithStrategy(buffer.Interval),
		buffer.WithSubscriber(func(c buffer.Completion) error {
			fmt.Printf("applied %s times_seen=%d created=%v\n",
				c.Kind, c.Columns["times_seen"], c.Created)
			return nil
		}),
	)
	defer buf.Close()

	ctx := context.Background()
	filters := map[string]string{"id": "42"}

	// Two updates for the same identity coalesce into one dispatch.
	buf.Incr(ctx, "project", map[string]int64{"times_seen": 1}, filters, nil)
	buf.Incr(ctx, "project", map[string]int64{"times_seen": 4}, filters, nil)
	buf.ProcessPending(ctx)
	// Output: applied project times_seen=5 created=true
}

func ExampleBuffer_RegisterCallback() {
	buf := buffer.New(buffer.WithStrategy(buffer.Interval))
	defer buf.Close()

	buf.RegisterCallback("notify", func(_ context.Context, values []string) error {
		fmt.Println("notify:", strings.Join(values, ","))
		return nil
	})

	ctx := context.Background()
	buf.Apply(ctx, "notify", "a")
	buf.Apply(ctx, "notify", "b")
	buf.ProcessPending(ctx)
	// Output: notify: a,b
}
