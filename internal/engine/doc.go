// Package engine contains the Root, which owns one video, audio, control
// and scripting sub-engine and drives their shared lifecycle.
//
// A Run moves through four phases:
//
//	launched      every sub-engine's Launch has returned successfully
//	running       frames are updated until Stop is called or the context ends
//	shutting down every launched sub-engine's Shutdown is called
//	terminated    the Run has returned
//
// Sub-engines are plain values implementing Engine and embedding one of the
// role markers (Video, Audio, Control or Scripting), which pins each
// implementation to exactly one slot. Each slot has its own lock; the Root
// holds at most one of them at a time, so an Update may call
// RootHandle.Stop without deadlocking.
//
// The Root does not log. Lifecycle activity is reported through an
// events.EventLogger and a metrics.MetricsCollector supplied with WithEvents
// and WithMetrics.
package engine
