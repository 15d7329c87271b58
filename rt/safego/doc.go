// Package safego runs functions with panic and error capture.
//
// It is the execution wrapper used by rt/task: a task's work function runs inside RunErr so
// that a returned error or a panic is turned into a handler call instead of taking down the
// worker goroutine.
//
// safego does not return errors to its caller. Errors and panics are delivered to handlers
// (if configured) or logged through logrus (by default, the standard logger; see WithLogger).
//
// # Synchronous vs asynchronous
//
// Go/GoErr start a new goroutine. Run/RunErr execute synchronously. In all cases, errors
// returned from the function are reported; they are not returned to the caller.
//
// Nil context: if ctx is nil, safego treats it as context.Background().
//
// # Capturing a fault
//
// A caller that needs the failure value, rather than a log line, installs both handlers:
//
//	var fault error
//	safego.RunErr(ctx, work,
//		safego.WithReportContextCancel(true),
//		safego.WithErrorHandler(func(_ context.Context, info safego.ErrorInfo) { fault = info.Err }),
//		safego.WithPanicHandler(func(_ context.Context, info safego.PanicInfo) { fault = info.Err() }),
//	)
//
// # Error reporting
//
// By default, context.Canceled and context.DeadlineExceeded are NOT reported because they are
// common during shutdown. Use WithReportContextCancel(true) to report them.
//
// # Panic policy
//
// RecoverAndReport (default) recovers and reports. RepanicAfterReport reports and panics again.
// RecoverOnly recovers silently.
//
// # Finalizers
//
// WithFinally functions always run (success, error, panic, repanic) in LIFO order. A panicking
// finalizer is contained and reported.
package safego
