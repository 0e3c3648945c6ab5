package engine

import "time"

// Recorder receives pipeline measurements. metrics.Exporter implements it
// with Prometheus.
type Recorder interface {
	ObserveRun(outcome string, d time.Duration)
	ObserveStage(stage string, d time.Duration, err error)
	ObserveRecall(collection string, points int)
	ObserveBootstrap(d time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRun(string, time.Duration)          {}
func (nopRecorder) ObserveStage(string, time.Duration, error) {}
func (nopRecorder) ObserveRecall(string, int)                 {}
func (nopRecorder) ObserveBootstrap(time.Duration, error)     {}
