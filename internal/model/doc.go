// Package model wraps one request/response exchange with the language-model service.
//
// # Conversation shape
//
// A conversation is a list of Turns. Each Turn has a Role (user or assistant)
// and an ordered list of Parts. Part is a closed sum type:
//
//	TextPart       - plain text
//	ToolCallPart   - the model asking for a capability (id, name, arguments)
//	ToolResultPart - the result of a capability call, correlated by id
//
// Turns encode to JSON with a "type" discriminator on each part so they can be
// persisted in session history and decoded back without loss.
//
// # Client
//
// Client.Call sends the system preamble, the messages and the advertised tools
// and returns the model's content parts and stop reason. Anthropic implements
// Client on top of the official SDK.
//
// Transport-level failures (rate limiting, connectivity, authentication) are
// returned as *TransportError and are never retried here; the conversation
// engine treats them as fatal for the current query.
package model
