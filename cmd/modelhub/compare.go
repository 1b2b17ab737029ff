package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Chanpoe/ModelHub/pkg/engine"
	"github.com/Chanpoe/ModelHub/pkg/modeladapter/usage"
)

// maxParallel bounds the number of providers queried at once.
const maxParallel = 8

// compareResult is one provider's answer in a compare run.
type compareResult struct {
	provider string
	reply    string
	usage    usage.TokenCount
	elapsed  time.Duration
	err      error
}

// compare sends question to each provider on its own dialog concurrently.
// Results keep the order of providers; a failing provider does not cancel
// the others.
func compare(ctx context.Context, eng *engine.Engine, providers []string, systemPrompt, question string) []compareResult {
	results := make([]compareResult, len(providers))

	var g errgroup.Group
	g.SetLimit(maxParallel)

	for i, name := range providers {
		g.Go(func() error {
			res := compareResult{provider: name}
			start := time.Now()

			d, err := eng.NewDialog(name, systemPrompt)
			if err == nil {
				res.reply, err = d.SendText(ctx, question)
				res.usage = d.Usage()
			}

			res.elapsed = time.Since(start)
			res.err = err
			results[i] = res

			return nil
		})
	}
	_ = g.Wait()

	return results
}

func printResults(w io.Writer, results []compareResult, render func(string) string) {
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}

		fmt.Fprintf(w, "== %s (%s) ==\n", r.provider, fmtDuration(r.elapsed))

		if r.err != nil {
			fmt.Fprintf(w, "error: %v\n", r.err)
			continue
		}

		fmt.Fprintln(w, render(r.reply))
		fmt.Fprintf(w, "[%s]\n", fmtUsage(r.usage))
	}
}
