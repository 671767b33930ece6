// Package engine wires all jobq subsystems together and provides the
// primary application-level API for registering and enqueuing work.
//
// The engine package exists to break a fundamental import cycle: the
// root jobq package defines Entity and Config (imported by job, worker,
// queue, etc.) and therefore cannot import those packages back. Engine
// sits above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	core, err := jobq.New(
//	    jobq.WithBackend(memory.New()),
//	    jobq.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(core,
//	    engine.WithHook(myHook),
//	    engine.WithBackoff(backoff.NewConstant(time.Second)),
//	    engine.WithLimits(queue.Limit{Type: "email", PerSecond: 100}),
//	)
//
// # Registering Work
//
//	engine.Register(eng, task.NewDefinition("email.send",
//	    func(ctx context.Context, in EmailInput) (EmailReceipt, error) {
//	        ...
//	    }))
//
// # Enqueuing Jobs
//
//	jobID, err := engine.Enqueue(ctx, eng, "email.send", input,
//	    queue.WithMaxRetries(3),
//	    queue.WithTimeout(30*time.Second),
//	)
//
//	receipt, done, err := engine.Result[EmailReceipt](ctx, eng, jobID)
//
// # Recurring Work
//
// Schedules admit a job on a cron expression. Invalid expressions fail
// Build; the scheduler starts and stops with the engine.
//
//	eng, err := engine.Build(core,
//	    engine.WithSchedule("nightly-report", "report.generate", "0 3 * * *", nil),
//	)
//
// # Observing Jobs
//
// A stream.Broker registered as a hook fans lifecycle events out to
// subscribers; eng.DLQ() inspects and replays terminally failed jobs.
//
//	broker := stream.NewBroker(logger)
//	eng, err := engine.Build(core, engine.WithHook(broker))
//	sub := broker.Subscribe("dashboard", stream.TopicFirehose)
//
// # Options
//
//   - [WithHook] — register a lifecycle hook
//   - [WithMiddleware] — add a middleware to the execution chain
//   - [WithBackoff] — set the retry backoff strategy
//   - [WithLimits] — configure per-task-type admission limits
//   - [WithSchedule] — register a recurring enqueue
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
