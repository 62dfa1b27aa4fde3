/*
Package resilience guards calls to a remote envsandbox server with a circuit
breaker.

A breaker starts closed. Threshold consecutive failures open it and every
call then fails with ErrCircuitOpen until Cooldown has passed. The breaker
is then half-open: Probes calls are let through, and as many successes in a
row close it while a single failure opens it again.

	Closed --[Threshold failures]-> Open --[Cooldown]-> Half-Open --[Probes successes]-> Closed
	                                  ^                     |
	                                  +------[failure]------+

Settings.IsFailure keeps caller mistakes such as HTTP 4xx answers from
tripping the circuit:

	b := resilience.New("sandbox-api", resilience.Settings{
		Threshold: 3,
		Cooldown:  10 * time.Second,
		IsFailure: client.IsServerFault,
	})
	res, err := resilience.Do(ctx, b, func(ctx context.Context) (*Result, error) {
		return call(ctx)
	})
*/
package resilience
