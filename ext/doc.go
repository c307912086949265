// Package ext defines lifecycle hooks for backlog.
//
// Extensions are notified of lifecycle events and can react to them, for
// example by recording metrics or writing audit logs. Each hook is a
// separate interface so extensions opt in only to the events they care
// about.
//
//	type slowJobs struct{}
//
//	func (slowJobs) Name() string { return "slow-jobs" }
//
//	func (slowJobs) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    if elapsed > time.Minute {
//	        log.Printf("job %s took %s", j.ID, elapsed)
//	    }
//	    return nil
//	}
//
// Hook errors are logged and never interrupt job processing.
package ext
