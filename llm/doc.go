// Package llm defines the provider-protocol types the agent runtime
// exchanges with a language-model backend: transcript items, requests,
// responses, tool definitions, and a typed error taxonomy.
//
// The runtime treats the backend as an opaque RPC behind the Provider
// interface. Any service exposing "message + tool call" semantics is
// substitutable; GollmProvider is the production implementation and
// ScriptedProvider backs the tests.
package llm
