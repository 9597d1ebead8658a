package duet

import (
	"errors"
	"testing"
	"time"
)

func TestSleepWaits(t *testing.T) {
	t.Parallel()
	start := time.Now()
	err := Do(func(c *Ctx) error {
		return Sleep(c, 20*time.Millisecond)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("sleep returned after %v, want >= 20ms", elapsed)
	}
}

func TestSleepersWakeInDeadlineOrder(t *testing.T) {
	t.Parallel()
	var order []int
	err := Do(func(c *Ctx) error {
		return NewScope(c, func(c *Ctx, sc *Scope) error {
			for _, d := range []int{30, 10, 20} {
				d := d
				sc.Spawn(func(c *Ctx) error {
					if err := Sleep(c, time.Duration(d)*time.Millisecond); err != nil {
						return err
					}
					order = append(order, d)
					return nil
				})
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 3 || order[0] != 10 || order[1] != 20 || order[2] != 30 {
		t.Fatalf("expected [10 20 30], got %v", order)
	}
}

func TestSleepUntilPastDeadline(t *testing.T) {
	t.Parallel()
	err := Do(func(c *Ctx) error {
		return SleepUntil(c, time.Now().Add(-time.Second))
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTimeoutScopeCancelsSlowWork(t *testing.T) {
	t.Parallel()
	start := time.Now()
	err := Do(func(c *Ctx) error {
		return TimeoutScope(c, 10*time.Millisecond, func(c *Ctx, sc *Scope) error {
			sc.Spawn(func(c *Ctx) error {
				return Sleep(c, time.Hour)
			})
			return Sleep(c, time.Hour)
		})
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if errors.Is(err, ErrCancelled) {
		t.Fatalf("timeout must be distinguishable from cancel, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout took %v, the hour sleeps were not interrupted", elapsed)
	}
}

func TestTimeoutScopeNoTimeoutOnFastWork(t *testing.T) {
	t.Parallel()
	v := 0
	err := Do(func(c *Ctx) error {
		return TimeoutScope(c, time.Hour, func(c *Ctx, sc *Scope) error {
			if err := Sleep(c, time.Millisecond); err != nil {
				return err
			}
			v = 1
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1 {
		t.Fatal("body did not complete")
	}
}

func TestDeadlineScope(t *testing.T) {
	t.Parallel()
	err := Do(func(c *Ctx) error {
		return DeadlineScope(c, time.Now().Add(10*time.Millisecond), func(c *Ctx, sc *Scope) error {
			return Sleep(c, time.Hour)
		})
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestNestedTimeoutInnerFiresFirst(t *testing.T) {
	t.Parallel()
	var inner error
	err := Do(func(c *Ctx) error {
		return TimeoutScope(c, time.Hour, func(c *Ctx, sc *Scope) error {
			inner = TimeoutScope(c, 10*time.Millisecond, func(c *Ctx, sc *Scope) error {
				return Sleep(c, time.Hour)
			})
			// The inner timeout is local to the inner scope; the outer
			// scope keeps running.
			if !errors.Is(inner, ErrTimeout) {
				return inner
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(inner, ErrTimeout) {
		t.Fatalf("expected inner ErrTimeout, got %v", inner)
	}
}

func TestTimeoutDuringJoin(t *testing.T) {
	t.Parallel()
	err := Do(func(c *Ctx) error {
		return TimeoutScope(c, 10*time.Millisecond, func(c *Ctx, sc *Scope) error {
			sc.Spawn(func(c *Ctx) error {
				return Sleep(c, time.Hour)
			})
			// Body exits immediately; the deadline elapses while the
			// scope is joining the sleeper.
			return nil
		})
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestRepeatedSleeps(t *testing.T) {
	t.Parallel()
	n := 0
	err := Do(func(c *Ctx) error {
		for i := 0; i < 5; i++ {
			if err := Sleep(c, time.Millisecond); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 sleeps, got %d", n)
	}
}

func TestYieldInterleaves(t *testing.T) {
	t.Parallel()
	var order []string
	err := Do(func(c *Ctx) error {
		return NewScope(c, func(c *Ctx, sc *Scope) error {
			sc.Spawn(func(c *Ctx) error {
				order = append(order, "a1")
				if err := Yield(c); err != nil {
					return err
				}
				order = append(order, "a2")
				return nil
			})
			sc.Spawn(func(c *Ctx) error {
				order = append(order, "b1")
				if err := Yield(c); err != nil {
					return err
				}
				order = append(order, "b2")
				return nil
			})
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"a1", "b1", "a2", "b2"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}
