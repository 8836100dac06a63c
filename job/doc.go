// Package job defines the job entity, its state machine, typed handler
// definitions, and the durable store contract.
//
// # Job Entity
//
// A [Job] is a unit of asynchronous work owned by a tenant. It carries a
// JSON payload, an attempt budget, and progresses through a state machine
// driven exclusively by transactional store updates:
//
//	pending → claimed → running → completed
//	pending → claimed → running → (attempt fails) → pending → ...
//	pending → claimed → running → failed
//	any → dead_letter (explicit quarantine)
//
// A claim is a lease: a job in claimed/running whose heartbeat lapses past
// the stale threshold becomes reclaimable by any other worker, and the
// reclaim increments the attempt counter. The original worker discovers
// the loss through a rejected heartbeat and must abort.
//
// # Defining a Job Type
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at publish time and deserialized before the handler runs:
//
//	var StartRun = job.NewDefinition("run.start",
//	    func(ctx context.Context, input RunInput) error {
//	        return runner.Start(ctx, input)
//	    },
//	)
//
// # Registry
//
// [Registry] maps job types to type-erased [HandlerFunc] values. Register
// definitions at startup via [RegisterDefinition]:
//
//	job.RegisterDefinition(registry, StartRun)
//	job.RegisterDefinition(registry, SyncRepository)
//
// The worker package dispatches deliveries through the registry by the
// envelope's type key.
package job
