package boneik

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// SolveAll runs one frame of each solver concurrently. Solvers share no
// state as long as they are bound to disjoint skeletons, so each solve runs
// in its own goroutine. Solvers whose turn comes after the context is
// cancelled are skipped, and all errors are combined.
func SolveAll(ctx context.Context, solvers ...*Solver) error {
	errs := make([]error, len(solvers))
	var wg sync.WaitGroup
	for i, solver := range solvers {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			break
		}
		i, solver := i, solver
		wg.Add(1)
		utils.PanicCapturingGo(func() {
			defer wg.Done()
			errs[i] = solver.Solve()
		})
	}
	wg.Wait()
	return multierr.Combine(errs...)
}
