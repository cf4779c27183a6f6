/*
Package workers sizes the upload pipeline's worker pools.

Counts derive from runtime.GOMAXPROCS(0) rather than runtime.NumCPU(), so
they follow container CPU limits:

	// Compression: one worker per CPU, at most 4
	n := workers.ForCPU(4)

	// Submission: two per CPU, at most 8
	n := workers.ForIO(8)

# Overrides

An operator can pin the count with the UPLOAD_WORKERS environment
variable, or the agent can pin it from its configuration with SetOverride.
The configured override wins over the environment. Either is still capped
by the limit passed to ForCPU, ForIO or Count.

All functions are safe for concurrent use.
*/
package workers
