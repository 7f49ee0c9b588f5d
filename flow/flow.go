// Package flow implements the agent turn loop: it streams one model turn at a
// time, assembles canonical chunks into assistant messages, fans tool calls
// out to a Dispatcher as soon as each call is complete, feeds the results back
// in declaration order and repeats until the model produces a final answer.
//
// Callers observe a run through a Progress handle: part-start, part-update,
// part-end and error notifications delivered synchronously in chunk order,
// plus a single final outcome that is either a Result or a *core.Error.
//
// Failures never escape as panics. Tool failures become error results the
// model can react to; stream failures, schema mismatches, the turn ceiling and
// cancellation resolve the outcome with the matching core.ErrorKind.
package flow
