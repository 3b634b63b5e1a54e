package utils

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"go.viam.com/test"
)

func TestWorkerPool(t *testing.T) {
	wp := NewWorkerPool(context.Background(), 3)
	var (
		mu   sync.Mutex
		seen []int
	)
	for i := 0; i < 50; i++ {
		i := i
		test.That(t, wp.Submit(func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, i)
			return nil
		}), test.ShouldBeNil)
	}
	test.That(t, wp.Wait(), test.ShouldBeNil)
	test.That(t, seen, test.ShouldHaveLength, 50)
	// a second Wait is harmless
	test.That(t, wp.Wait(), test.ShouldBeNil)
}

func TestWorkerPoolFirstError(t *testing.T) {
	bad := errors.New("bad")
	var ran atomic.Int32
	wp := NewWorkerPool(context.Background(), 2)
	test.That(t, wp.Submit(func(ctx context.Context) error {
		ran.Add(1)
		return bad
	}), test.ShouldBeNil)

	// once the failure is seen, later submissions are refused
	var submitErr error
	for i := 0; i < 1000 && submitErr == nil; i++ {
		submitErr = wp.Submit(func(ctx context.Context) error {
			ran.Add(1)
			<-ctx.Done()
			return nil
		})
	}
	test.That(t, errors.Is(submitErr, context.Canceled), test.ShouldBeTrue)
	test.That(t, wp.Wait(), test.ShouldEqual, bad)
	test.That(t, ran.Load(), test.ShouldBeLessThan, 1000)
}

func TestWorkerPoolPanic(t *testing.T) {
	err := ForEach(context.Background(), 2, []int{1, 2, 3}, func(ctx context.Context, i int) error {
		if i == 2 {
			panic("two")
		}
		return nil
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "two")
}

func TestForEach(t *testing.T) {
	var sum atomic.Int64
	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}
	err := ForEach(context.Background(), 0, items, func(ctx context.Context, i int) error {
		sum.Add(int64(i))
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sum.Load(), test.ShouldEqual, 4950)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	err = ForEach(ctx, 4, items, func(ctx context.Context, i int) error {
		calls.Add(1)
		return nil
	})
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, calls.Load(), test.ShouldEqual, 0)
}
