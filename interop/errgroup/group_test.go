package errgroup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/google/duet"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAwaitSubmittedWork(t *testing.T) {
	t.Parallel()
	g, _ := WithContext(context.Background())

	sum, err := duet.Run(func(c *duet.Ctx) (int, error) {
		a := Submit(g, func(context.Context) (int, error) {
			time.Sleep(5 * time.Millisecond)
			return 40, nil
		})
		b := Submit(g, func(context.Context) (int, error) {
			return 2, nil
		})
		x, err := a.Await(c)
		if err != nil {
			return 0, err
		}
		y, err := b.Await(c)
		if err != nil {
			return 0, err
		}
		return x + y, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, sum)
	require.NoError(t, g.Wait())
}

func TestFailurePropagatesToAwaiter(t *testing.T) {
	t.Parallel()
	g, gctx := WithContext(context.Background())
	boom := errors.New("boom")

	err := duet.Do(func(c *duet.Ctx) error {
		f := Submit(g, func(context.Context) (struct{}, error) {
			return struct{}{}, boom
		})
		_, err := f.Await(c)
		return err
	})
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, g.Wait(), boom)

	select {
	case <-gctx.Done():
	case <-time.After(time.Second):
		t.Fatal("group context was not cancelled")
	}
}

func TestFailureCancelsSiblings(t *testing.T) {
	t.Parallel()
	g, _ := WithContext(context.Background())
	boom := errors.New("boom")

	Submit(g, func(context.Context) (struct{}, error) {
		return struct{}{}, boom
	})
	slow := Submit(g, func(ctx context.Context) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
			return "finished", nil
		}
	})

	require.ErrorIs(t, g.Wait(), boom)
	err := duet.Do(func(c *duet.Ctx) error {
		_, err := slow.Await(c)
		return err
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSetLimit(t *testing.T) {
	t.Parallel()
	g, _ := WithContext(context.Background())
	g.SetLimit(1)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		Submit(g, func(context.Context) (struct{}, error) {
			order = append(order, i)
			return struct{}{}, nil
		})
	}
	require.NoError(t, g.Wait())
	// The limit serializes execution, so appends never race and run FIFO.
	assert.Equal(t, []int{0, 1, 2}, order)
}
