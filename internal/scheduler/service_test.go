package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestServiceRunsOnSchedule(t *testing.T) {
	var runs atomic.Int32
	ran := make(chan struct{}, 4)
	sched, err := Parse("@every 1m")
	if err != nil {
		t.Fatal(err)
	}

	// A clock one minute behind makes every planned run due immediately.
	svc := NewService("test", sched, func(context.Context) error {
		runs.Add(1)
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}, WithClock(func() time.Time { return time.Now().Add(-time.Minute) }))

	go svc.Start(context.Background())
	for i := 0; i < 2; i++ {
		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatalf("job ran %d times before timing out", runs.Load())
		}
	}
	svc.Stop()

	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != after {
		t.Error("job ran after Stop returned")
	}
}

func TestServiceStopsOnContext(t *testing.T) {
	sched, _ := Parse("@daily")
	svc := NewService("test", sched, func(context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(finished)
	}()
	cancel()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestRunNowAppliesTimeout(t *testing.T) {
	sched, _ := Parse("@hourly")
	svc := NewService("test", sched, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithRunTimeout(10*time.Millisecond))

	if err := svc.RunNow(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
