// ABOUTME: Package dispatch routes capability invocations to their providers.
// ABOUTME: Every dispatch yields an Envelope; failures never escape as errors or panics.

// Package dispatch owns the capability registry at runtime. It initializes the
// configured providers in order, folds their descriptors into a
// capability.Registry, and routes each invocation to the provider that owns
// the requested name.
//
// # Envelopes
//
// Dispatch never returns an error. Unknown names, rejected arguments, handler
// failures, panics and unserializable results all come back as a failure
// Envelope tagged with a capability.ErrorKind, so a conversation can feed the
// outcome straight back to the model:
//
//	env := mgr.Dispatch(ctx, "get_application", args)
//	if !env.Success {
//	    log.Printf("%s failed: %s", env.ToolName, env.Details)
//	}
//
// # Batches
//
// DispatchBatch executes all calls from one model turn with bounded
// concurrency. Results come back in request order and one failed call never
// cancels its siblings.
package dispatch
