package service

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fancoin/rostermint/submission"
)

// Report summarises one reconciliation cycle.
type Report struct {
	CycleID   string
	Epoch     uint64
	Started   time.Time
	Collected int
	// Matched are the registered names seen in the roster, by sequence index.
	Matched []string
	// AlreadyRewarded were matched but had their reward for the epoch.
	AlreadyRewarded []string
	Stale           []string
	// Skipped were left unsubmitted because the cycle was interrupted.
	Skipped []string
	Results []submission.Result
}

// Rewarded returns the names of all successfully submitted batches.
func (r *Report) Rewarded() []string {
	var out []string
	for _, res := range r.Results {
		if res.Succeeded() {
			out = append(out, res.Batch.Names()...)
		}
	}
	return out
}

func (r *Report) Failed() []submission.Result {
	var out []submission.Result
	for _, res := range r.Results {
		if !res.Succeeded() {
			out = append(out, res)
		}
	}
	return out
}

// implement zap.ObjectMarshaler interface.
func (r *Report) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("cycle", r.CycleID)
	enc.AddUint64("epoch", r.Epoch)
	enc.AddInt("collected", r.Collected)
	enc.AddInt("matched", len(r.Matched))
	enc.AddInt("already rewarded", len(r.AlreadyRewarded))
	enc.AddInt("rewarded", len(r.Rewarded()))
	enc.AddInt("failed batches", len(r.Failed()))
	enc.AddInt("stale", len(r.Stale))
	enc.AddInt("skipped", len(r.Skipped))
	return nil
}
