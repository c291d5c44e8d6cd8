// Package shutdown implements the Shutdown Coordinator (H): a
// process-wide, strictly-ordered quiesce sequence driven on SIGTERM/
// SIGINT. Tiers never run in parallel, and never out of order, so a
// later tier (e.g. the Recording Catalog) is never asked to quiesce
// while an earlier one (e.g. a Stream Reader) might still be producing
// work for it (§4.8).
package shutdown

import (
	"context"
	"log/slog"
	"time"
)

// ExitCodeLeaked is the process exit code used when one or more
// components miss their quiesce deadline (§6).
const ExitCodeLeaked = 3

// Tier is one stage of the quiesce sequence. Quiesce blocks until every
// component it owns has stopped or deadline elapses, and returns the
// names of any components still running past the deadline ("leaked").
type Tier struct {
	Name     string
	Deadline time.Duration
	Quiesce  func(ctx context.Context, deadline time.Duration) []string
}

// Coordinator runs a fixed, ordered sequence of Tiers.
type Coordinator struct {
	tiers []Tier
	log   *slog.Logger
}

// New creates an empty Coordinator. Tiers are added with AddTier in the
// order they must quiesce.
func New(log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{log: log.With("component", "shutdown")}
}

// AddTier appends a tier to the quiesce sequence. Call in strict
// dependency order: Lifecycle Manager, then Stream Readers, then
// Segmenter/HLS/Detection writers, then Recording Catalog.
func (c *Coordinator) AddTier(name string, deadline time.Duration, quiesce func(ctx context.Context, deadline time.Duration) []string) {
	c.tiers = append(c.tiers, Tier{Name: name, Deadline: deadline, Quiesce: quiesce})
}

// Run executes every tier in order, never starting tier N+1 until tier
// N's Quiesce call has returned (whether clean or leaked). It always
// runs every tier, even after an earlier one leaks, so later tiers still
// get a chance to quiesce whatever they own. Returns every leaked
// component name across all tiers, tagged with its tier.
func (c *Coordinator) Run(ctx context.Context) []string {
	var leaked []string
	for _, t := range c.tiers {
		c.log.Info("quiescing tier", "tier", t.Name, "deadline", t.Deadline)
		tierLeaked := t.Quiesce(ctx, t.Deadline)
		for _, name := range tierLeaked {
			c.log.Warn("component leaked past its quiesce deadline", "tier", t.Name, "component", name)
			leaked = append(leaked, t.Name+"/"+name)
		}
		if len(tierLeaked) == 0 {
			c.log.Info("tier quiesced cleanly", "tier", t.Name)
		}
	}
	return leaked
}

// WrapSimple adapts a single all-or-nothing quiesce operation (e.g.
// stopping a cron loop or closing a database handle) into the Tier
// Quiesce shape used by Coordinator.AddTier, reporting name as leaked if
// op has not returned by deadline.
func WrapSimple(name string, op func(ctx context.Context) error) func(ctx context.Context, deadline time.Duration) []string {
	return func(ctx context.Context, deadline time.Duration) []string {
		done := make(chan error, 1)
		go func() { done <- op(ctx) }()

		select {
		case err := <-done:
			if err != nil {
				return []string{name}
			}
			return nil
		case <-time.After(deadline):
			return []string{name}
		case <-ctx.Done():
			return []string{name}
		}
	}
}
