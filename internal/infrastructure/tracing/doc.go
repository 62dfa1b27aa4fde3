/*
Package tracing provides lightweight request tracing for the sandbox API.

Each HTTP request gets a span; handlers open child spans around sandbox work
(execution, module loading, snapshot restore) so a slow request can be broken
down in the logs.

# Usage

	tracer := tracing.New("envsandbox", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "sandbox.execute")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
	span.SetTag("exec_id", res.ID)

# Propagation

X-Trace-ID names the whole request flow and X-Span-ID the calling operation.
Both are read from requests and written to responses.

Finished spans are logged at Debug (Warn when they carry an error) and the
last DefaultKeep are available from Recent.
*/
package tracing
