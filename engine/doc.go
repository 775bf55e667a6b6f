// Package engine wires every cadence subsystem into a running scheduling
// node and provides the cluster-wide control API.
//
// The engine package exists to break a fundamental import cycle: the root
// cadence package defines Config and the sentinel errors (imported by job,
// workflow, scheduler, etc.) and therefore cannot import those packages
// back. Engine sits above all subsystem packages and below the
// application layer.
//
// # Building an Engine
//
//	node, err := cadence.New(
//	    cadence.WithConfig(cfg),
//	    cadence.WithCatalog(pgStore),
//	    cadence.WithClusterStore(redisStore),
//	    cadence.WithTransport(redisStore),
//	)
//
//	eng, err := engine.Build(node,
//	    engine.WithExecutor(executor.NewRouter(logger, endpoints...)),
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(middleware.Logging(logger)),
//	    engine.WithThrottle(queue.Config{Namespace: "reports", MaxConcurrency: 4}),
//	)
//
//	err = eng.Start(ctx)
//	defer eng.Stop(ctx)
//
// # Control API
//
//	runID, err := eng.TriggerWorkflow(ctx, workflowID)
//	err = eng.OnlineWorkflow(ctx, workflowID)
//	err = eng.KillWorkflowRun(ctx, runID)
//	next, err := eng.RerunWorkflowRun(ctx, runID, nil)
//	err = eng.RefreshJobInfo(ctx, jobID, broadcast.RefreshUpdate)
//
// Executors report outcomes with [Engine.ReportJobCompleted] and
// [Engine.ReportSplitCompleted]; any node accepts a report and forwards it
// to the owner of the run's bucket.
//
// # Options
//
//   - [WithExecutor]: set the executor runs are dispatched to (required)
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the dispatch chain
//   - [WithThrottle]: configure per-namespace rate and concurrency limits
//   - [WithClaimStore]: set where dispatch claims are recorded
//   - [WithTracerProvider]: set the OpenTelemetry tracer provider
//   - [WithMeterProvider]: set the OpenTelemetry meter provider
package engine
