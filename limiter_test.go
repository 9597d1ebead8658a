package duet

import (
	"errors"
	"testing"
	"time"
)

func TestLimiterBoundsConcurrency(t *testing.T) {
	t.Parallel()
	lim := NewLimiter(2)
	inside, peak := 0, 0
	err := Do(func(c *Ctx) error {
		return NewScope(c, func(c *Ctx, sc *Scope) error {
			for i := 0; i < 6; i++ {
				sc.Spawn(func(c *Ctx) error {
					return lim.Do(c, func(c *Ctx) error {
						inside++
						if inside > peak {
							peak = inside
						}
						if err := Sleep(c, time.Millisecond); err != nil {
							return err
						}
						inside--
						return nil
					})
				})
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if peak != 2 {
		t.Fatalf("peak concurrency = %d, want 2", peak)
	}
}

func TestLimiterFIFO(t *testing.T) {
	t.Parallel()
	lim := NewLimiter(1)
	var order []int
	err := Do(func(c *Ctx) error {
		return NewScope(c, func(c *Ctx, sc *Scope) error {
			for i := 0; i < 4; i++ {
				i := i
				sc.Spawn(func(c *Ctx) error {
					slot, err := lim.Acquire(c)
					if err != nil {
						return err
					}
					defer slot.Release()
					order = append(order, i)
					return Yield(c)
				})
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO admission, got %v", order)
		}
	}
	if len(order) != 4 {
		t.Fatalf("expected 4 admissions, got %v", order)
	}
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()
	lim := NewLimiter(0)
	err := Do(func(c *Ctx) error {
		for i := 0; i < 10; i++ {
			slot, err := lim.Acquire(c)
			if err != nil {
				return err
			}
			defer slot.Release()
		}
		if !lim.Available() {
			return errors.New("unlimited limiter reported full")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLimiterAvailable(t *testing.T) {
	t.Parallel()
	lim := NewLimiter(1)
	err := Do(func(c *Ctx) error {
		if !lim.Available() {
			return errors.New("fresh limiter should have room")
		}
		slot, err := lim.Acquire(c)
		if err != nil {
			return err
		}
		if lim.Available() {
			return errors.New("full limiter should report no room")
		}
		slot.Release()
		if !lim.Available() {
			return errors.New("released limiter should have room")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLimiterCancelledWaiterSkipped(t *testing.T) {
	t.Parallel()
	lim := NewLimiter(1)
	release := NewFuture[struct{}]()
	var acquired bool
	err := Do(func(c *Ctx) error {
		return NewScope(c, func(c *Ctx, sc *Scope) error {
			sc.Spawn(func(c *Ctx) error {
				slot, err := lim.Acquire(c)
				if err != nil {
					return err
				}
				defer slot.Release()
				_, err = release.Await(c)
				return err
			})
			// A waiter that times out while queued gives up its place.
			err := TimeoutScope(c, 5*time.Millisecond, func(c *Ctx, sc *Scope) error {
				sc.Spawn(func(c *Ctx) error {
					_, err := lim.Acquire(c)
					if err == nil {
						t.Error("queued waiter should have been cancelled")
					}
					return err
				})
				return nil
			})
			if !errors.Is(err, ErrTimeout) {
				t.Errorf("expected ErrTimeout, got %v", err)
			}
			release.SetResult(struct{}{})
			// The slot must go to a live acquirer, not the dead waiter.
			return lim.Do(c, func(c *Ctx) error {
				acquired = true
				return nil
			})
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatal("limiter never admitted the live acquirer")
	}
}

func TestLimiterSetCapacityGrowAdmitsWaiters(t *testing.T) {
	t.Parallel()
	lim := NewLimiter(1)
	release := NewFuture[struct{}]()
	var admitted bool
	err := Do(func(c *Ctx) error {
		return NewScope(c, func(c *Ctx, sc *Scope) error {
			sc.Spawn(func(c *Ctx) error {
				slot, err := lim.Acquire(c)
				if err != nil {
					return err
				}
				defer slot.Release()
				_, err = release.Await(c)
				return err
			})
			sc.Spawn(func(c *Ctx) error {
				slot, err := lim.Acquire(c)
				if err != nil {
					return err
				}
				admitted = true
				slot.Release()
				release.SetResult(struct{}{})
				return nil
			})
			if err := Yield(c); err != nil {
				return err
			}
			if err := Yield(c); err != nil {
				return err
			}
			if admitted {
				return errors.New("second acquirer admitted past capacity 1")
			}
			lim.SetCapacity(2)
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !admitted {
		t.Fatal("growing capacity did not admit the queued waiter")
	}
}

func TestLimiterWaitAvailable(t *testing.T) {
	t.Parallel()
	lim := NewLimiter(1)
	var order []string
	err := Do(func(c *Ctx) error {
		return NewScope(c, func(c *Ctx, sc *Scope) error {
			sc.Spawn(func(c *Ctx) error {
				slot, err := lim.Acquire(c)
				if err != nil {
					return err
				}
				if err := Sleep(c, 5*time.Millisecond); err != nil {
					return err
				}
				order = append(order, "released")
				slot.Release()
				return nil
			})
			sc.Spawn(func(c *Ctx) error {
				if err := lim.WaitAvailable(c); err != nil {
					return err
				}
				order = append(order, "observed room")
				return nil
			})
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "released" || order[1] != "observed room" {
		t.Fatalf("expected [released, observed room], got %v", order)
	}
}

func TestSlotDoubleReleasePanics(t *testing.T) {
	t.Parallel()
	lim := NewLimiter(1)
	err := Do(func(c *Ctx) error {
		slot, err := lim.Acquire(c)
		if err != nil {
			return err
		}
		slot.Release()
		defer func() {
			if recover() == nil {
				t.Error("second Release should panic")
			}
		}()
		slot.Release()
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
