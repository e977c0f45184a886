// Package agent implements the autonomous session loop: a transcript
// manager, a gated tool invocation pipeline, a file integrity guard, an
// independent completion judge, and JSON persistence of session records.
//
// A Controller owns one session end to end. The host supplies a model
// provider, an execution environment, and an approval callback, then
// drives the session with Run while consuming typed events from Events.
package agent
