package main

import (
	"context"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/reap"
)

// NullFetcher is the documented stand-in for the actual HTTP/DNS fetch
// collaborator (spec.md's Non-goals: "fetching implementation, a.k.a.
// libgather, is a separate component"). It satisfies reap.Fetcher by
// reporting every job as succeeded without making a network call, so the
// reap phase's scheduling and checkpointing machinery can run end to end
// against a real Pool in the absence of libgather.
type NullFetcher struct{}

func (NullFetcher) Fetch(_ context.Context, _ *reap.Qsite, _ reap.Job) reap.Outcome {
	return reap.Outcome{Class: cmn.ErrNone}
}
