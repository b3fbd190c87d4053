package dispatcher

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherRunsInSubmitOrder(t *testing.T) {
	d := New(0, 0)
	d.Start()
	defer d.Stop()

	var order []int
	done := make(chan struct{})

	go func() {
		for i := 0; i < 5; i++ {
			i := i
			err := d.Submit(context.Background(), func(ctx context.Context) error {
				order = append(order, i)
				return nil
			})
			if err != nil {
				t.Errorf("Submit(%d): %v", i, err)
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for submissions to complete")
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want strictly increasing", order)
		}
	}
}

func TestDispatcherPropagatesExecuteError(t *testing.T) {
	d := New(0, 0)
	d.Start()
	defer d.Stop()

	wantErr := context.DeadlineExceeded
	err := d.Submit(context.Background(), func(ctx context.Context) error {
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("Submit returned %v, want %v", err, wantErr)
	}
}

func TestDispatcherStopResolvesQueuedSubmit(t *testing.T) {
	d := New(0, 0)
	d.Start()

	block := make(chan struct{})
	go d.Submit(context.Background(), func(ctx context.Context) error {
		<-block
		return nil
	})

	// Give the worker a moment to pick up the blocking ticket so the
	// next Submit actually queues behind it rather than racing Stop.
	time.Sleep(20 * time.Millisecond)

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- d.Submit(context.Background(), func(ctx context.Context) error {
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	close(block)
	d.Stop()

	select {
	case <-resultCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued submit to resolve after Stop")
	}
}
