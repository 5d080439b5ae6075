package main

import (
	"context"
	"time"

	"github.com/kingrea/maidsync/internal/change"
	"github.com/kingrea/maidsync/internal/hookbus"
	"github.com/kingrea/maidsync/internal/logging"
)

// logDisplay mirrors the selected maid into the diagnostics log.
type logDisplay struct {
	log *logging.Logger
}

func (d logDisplay) RefreshField(tag change.Tag, v change.Value) {
	d.log.Debugf("display: %s = %s", tag, v)
}

func (d logDisplay) ClearAllFields() {
	d.log.Debugf("display: cleared")
}

func (d logDisplay) SetControlsEnabled(enabled bool) {
	d.log.Debugf("display: controls enabled=%t", enabled)
}

func (d logDisplay) QueueDrained() {}

func (d logDisplay) MarkLocked(tag change.Tag, locked bool) {
	d.log.Infof("display: %s locked=%t", tag, locked)
}

func (d logDisplay) ShowLocked(tag change.Tag) {
	d.log.Infof("display: write to %s vetoed", tag)
}

// runHeadless uses a hookbus.Loop as the consumer and drains on a ticker
// until ctx is cancelled.
func (a *app) runHeadless(ctx context.Context, selected change.Entity) error {
	loop := hookbus.NewLoop(a.cfg.Project.Bus.Buffer, a.log)
	bus := a.newBus(loop)
	a.engine.Attach(logDisplay{log: a.log})
	loop.Start(ctx)
	defer loop.Stop()
	a.store.Attach(bus)

	if err := bus.Do(ctx, func(ctx context.Context) {
		a.engine.ResyncPlayer()
		if !selected.None() {
			a.engine.Select(ctx, selected)
		}
	}); err != nil {
		return err
	}
	stopSidecars := a.startSidecars(ctx, bus)
	defer stopSidecars()
	a.log.Infof("headless mode: mirroring %q", selected)

	ticker := time.NewTicker(a.cfg.Project.Engine.DrainInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.log.Infof("headless mode: shutting down")
			return nil
		case <-ticker.C:
			loop.Post(func(ctx context.Context) {
				pending := a.engine.PendingTags()
				if report := a.engine.Drain(ctx); !report.Empty() {
					a.log.Debugf("drain %v: ran=%d stale=%d failed=%d", pending, report.Ran, report.Stale, len(report.Failures))
				}
			})
		}
	}
}
