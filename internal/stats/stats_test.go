package stats_test

import (
	"testing"

	"github.com/biomine3000/routingbroker/internal/stats"
)

func TestCountersAndGauges(t *testing.T) {
	tr := stats.New()
	tr.Inc(stats.FramesRouted)
	tr.Add(stats.FramesRoutedSize, 128)
	tr.IncGauge(stats.SessionsActive)
	tr.IncGauge(stats.SessionsActive)
	tr.DecGauge(stats.SessionsActive)

	mfs, err := tr.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected registered metric families")
	}
}

func TestUnknownNameIsNoop(t *testing.T) {
	tr := stats.New()
	tr.Inc("not.a.real.metric")
	tr.IncGauge("also.not.real")
	tr.DecGauge("also.not.real")
}
