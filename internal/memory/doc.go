// Package memory keeps the agent inside its memory budget.
//
// [ConfigureLimit] turns MEMORY_LIMIT and MEMORY_RATIO into the runtime's
// soft limit (GOMEMLIMIT), leaving headroom for libvips, whose buffers live
// outside the Go heap. An explicit GOMEMLIMIT always wins.
//
// A [Monitor] samples heap usage and applies backpressure to the upload
// pipeline: while usage is above the pause threshold, [Monitor.Wait] blocks
// new compressions until usage drops below the resume threshold.
//
//	monitor := memory.NewMonitor(memory.DefaultConfig())
//	monitor.Start()
//	defer monitor.Stop()
//
//	pipeline := upload.NewPipeline(compressor, client, upload.Options{Gate: monitor})
package memory
