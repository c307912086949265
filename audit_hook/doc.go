// Package audithook is an extension that turns backlog lifecycle events
// into audit records.
//
// Every job, recurring, invalidation, and shutdown hook becomes an
// [Event] handed to a [Recorder]. Retries are warnings and terminal
// failures are critical; everything else is info. [LogRecorder] writes
// events to a slog.Logger; other backends plug in through [RecorderFunc].
//
//	eng, err := engine.Build(d,
//	    engine.WithExtension(audithook.New(audithook.LogRecorder(logger),
//	        audithook.WithActions(audithook.ActionJobFailed, audithook.ActionCacheInvalidated),
//	    )),
//	)
package audithook
