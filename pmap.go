package duet

// PMapAsync applies fn to every element of items from within an existing
// run, keeping at most limit calls in flight (limit <= 0 means unbounded).
// Results are returned in input order regardless of completion order. The
// first failure cancels the remaining calls and surfaces out of the
// enclosing scope's aggregate.
func PMapAsync[T, U any](c *Ctx, items []T, limit int, fn func(c *Ctx, item T) (U, error)) ([]U, error) {
	out := make([]U, len(items))
	lim := NewLimiter(limit)
	err := NewScope(c, func(c *Ctx, sc *Scope) error {
		for i := range items {
			slot, err := lim.Acquire(c)
			if err != nil {
				return err
			}
			i := i
			sc.Spawn(func(c *Ctx) error {
				defer slot.Release()
				v, err := fn(c, items[i])
				if err != nil {
					return err
				}
				out[i] = v
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PMap is PMapAsync behind its own Run, for callers outside any coroutine.
func PMap[T, U any](items []T, limit int, fn func(c *Ctx, item T) (U, error)) ([]U, error) {
	return Run(func(c *Ctx) ([]U, error) {
		return PMapAsync(c, items, limit, fn)
	})
}
