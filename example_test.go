package flowstate_test

import (
	"context"
	"fmt"
	"time"

	"github.com/petrijr/flowstate"
)

// Example_engine shows that a delayed, older event cannot overwrite a newer
// state.
func Example_engine() {
	ctx := context.Background()
	eng := flowstate.NewInMemoryEngine()
	key := flowstate.Key{Flow: "flow-1", Node: "risk_manager"}

	eng.Upsert(ctx, key, flowstate.Delta{Status: flowstate.Ptr(flowstate.StatusCompleted), Timestamp: 100})
	eng.Upsert(ctx, key, flowstate.Delta{Status: flowstate.Ptr(flowstate.StatusError), Timestamp: 90})

	fmt.Println(eng.Read(ctx, key).Status)
	fmt.Println(eng.Read(ctx, flowstate.Key{Flow: "flow-2", Node: "risk_manager"}).Status)
	// Output:
	// COMPLETED
	// IDLE
}

// Example_localRunner demonstrates applying stream events through a queue
// and a worker.
func Example_localRunner() {
	ctx := context.Background()
	runner := flowstate.NewLocalRunner()

	if err := runner.StartWorkers(ctx, 1); err != nil {
		panic(err)
	}
	defer runner.Stop()

	key := flowstate.Key{Flow: "flow-1", Node: "market_analyst"}
	done := make(chan struct{})
	unsubscribe := runner.Engine.Subscribe(key, func(v flowstate.NodeView) {
		if v.State.Status == flowstate.StatusCompleted {
			close(done)
		}
	})
	defer unsubscribe()

	_ = runner.Enqueue(ctx, key.Flow, flowstate.StreamEvent{
		Type: flowstate.StreamProgress,
		Progress: flowstate.ProgressEvent{
			Agent:     "market_analyst",
			Status:    "DONE",
			Timestamp: flowstate.Ptr(int64(1)),
		},
	})

	select {
	case <-done:
		fmt.Println("market_analyst completed")
	case <-time.After(time.Second):
		fmt.Println("timed out")
	}
	// Output: market_analyst completed
}
