package bundler

import "time"

// Recorder receives bundling measurements.
type Recorder interface {
	RecordChunkBuild(chunk string, cached bool, duration time.Duration)
	RecordModuleCompile(cached bool)
	RecordStaleRemoved(count int)
}

type nopRecorder struct{}

func (nopRecorder) RecordChunkBuild(string, bool, time.Duration) {}
func (nopRecorder) RecordModuleCompile(bool)                     {}
func (nopRecorder) RecordStaleRemoved(int)                       {}
