package main

import (
	"github.com/pterm/pterm"

	"github.io/infrasutra/mailshelf/internal/progress"
)

// progressBar renders import progress as a percentage bar.
type progressBar struct {
	pb *pterm.ProgressbarPrinter
}

// newProgressBar returns a bar when enabled, otherwise a bar whose sink
// discards reports.
func newProgressBar(enabled bool) *progressBar {
	bar := &progressBar{}
	if !enabled {
		return bar
	}
	pb, err := pterm.DefaultProgressbar.
		WithTotal(100).
		WithTitle("Importing archive").
		Start()
	if err == nil {
		bar.pb = pb
	}
	return bar
}

// Sink is called serially by the importer's tracker.
func (b *progressBar) Sink(r progress.Report) {
	if b.pb == nil {
		return
	}
	target := int(r.Percent)
	if delta := target - b.pb.Current; delta > 0 {
		b.pb.Add(delta)
	}
}

func (b *progressBar) Stop() {
	if b.pb == nil {
		return
	}
	_, _ = b.pb.Stop()
}
