// Package agent binds a model, an instruction and a tool set into a
// conversational Agent on top of the flow turn loop.
//
// An Agent keeps the conversation across sends:
//
//   - Send starts a run and returns its *flow.Progress immediately; a second
//     Send while the first is in flight fails with ErrAgentBusy
//   - Run is the synchronous variant
//   - successful runs commit their history, failed or cancelled runs do not
//   - Clone yields an independent agent with a copy of the conversation
//
// With Options.Sessions and Options.SessionID set, the conversation lives in
// a core.SessionStore instead and can be shared between agents.
//
// Instructions are static text or a Provider resolved at the start of each
// run.
package agent
