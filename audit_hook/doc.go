// Package audithook is an sdlq extension that bridges queue lifecycle
// events to an immutable audit trail.
//
// Every park, redelivery, failed retry, operator clear and capacity
// rejection emits a structured audit event through the [Recorder]
// interface. Operator clears are recorded as critical since they drop
// messages for good.
//
// # Usage
//
//	eng, err := engine.Build(ctx, handler, resolver,
//	    engine.WithExtension(audithook.New(audithook.RecorderFunc(
//	        func(ctx context.Context, evt *audithook.AuditEvent) error {
//	            return auditLog.Write(ctx, evt)
//	        },
//	    ))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionLetterCleared,
//	        audithook.ActionSequenceCleared,
//	    ),
//	)
package audithook
