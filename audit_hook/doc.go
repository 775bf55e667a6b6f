// Package audithook is a cadence extension that bridges scheduling
// lifecycle events to an audit trail backend.
//
// Every job run, workflow run, bucket and broadcast hook emits a
// structured audit event through the [Recorder] interface. The extension
// assigns severity levels (info for normal operations, warning for retries
// and lost buckets, critical for terminal failures) and metadata (job id,
// workflow run, bucket, attempt, elapsed time).
//
// # Usage
//
//	engine.Build(node,
//	    engine.WithExtension(audithook.New(audithook.NewLogRecorder(logger))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionWorkflowFailed,
//	        audithook.ActionBucketLost,
//	    ),
//	)
package audithook
