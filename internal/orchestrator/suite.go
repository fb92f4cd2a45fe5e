package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"testbed/pkg/logging"
)

// Case is one entry of a suite.
type Case struct {
	Name    string
	Fixture any
	Body    Body
}

// RunSuite runs every case in its own test context, at most
// Config.Parallel at a time. Results are returned in case order. A failing
// case does not stop the others.
func (o *Orchestrator) RunSuite(ctx context.Context, cases []Case) []*Result {
	results := make([]*Result, len(cases))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Parallel)
	for i, c := range cases {
		g.Go(func() error {
			res, _ := o.Run(ctx, c.Fixture, c.Body)
			res.Name = c.Name
			results[i] = res
			logging.Info("Orchestrator", "Case %s: %s in %s", c.Name, res.Outcome, res.Duration)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Summary counts results per outcome.
func Summary(results []*Result) map[string]int {
	out := map[string]int{}
	for _, r := range results {
		if r != nil {
			out[r.Outcome]++
		}
	}
	return out
}
