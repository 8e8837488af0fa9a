// Package conversation runs the agentic question-answering loop.
//
// # Overview
//
// An Engine answers one natural-language query against a session. It calls
// the model with the session's recent history, executes any tool calls the
// model requests through the dispatcher, feeds the results back and repeats
// until the model replies with plain text:
//
//	engine, err := conversation.New(conversation.Config{
//		Sessions:   store,
//		Dispatcher: manager,
//		Model:      client,
//	})
//	res, err := engine.ProcessQuery(ctx, "How strong is application 75179?", sessionID)
//
// # Iteration Bound
//
// Each model call is one iteration. A response requesting tools at iteration
// MaxIterations+1 ends the query with *IterationBoundError, so a query makes at
// most MaxIterations+1 model calls and MaxIterations tool batches.
//
// # Failures
//
// Tool failures are recoverable: they come back to the model as error tool
// results in the same batch as the successful ones. Session load failures and
// model transport failures end the query immediately and are never retried.
//
// # History
//
// Intermediate tool turns live only in memory. The session receives exactly
// one (query, answer) pair once a query succeeds, and nothing otherwise.
//
// # Concurrency
//
// Queries on the same session are serialized by an in-process keyed mutex.
// When replicas share a Redis session store, a Locker extends the exclusion
// across processes.
//
// # Progress Events
//
// A Broadcaster, when configured, receives an Event for each model call, tool
// call and tool result, which transports can stream to clients.
package conversation
