// Package agent drives a conversation with a coding agent running as an
// app server subprocess.
//
// A Session owns one agent process at a time. It performs the handshake
// (initialize, newConversation or resumeConversation, then
// addConversationListener), submits user turns and routes everything the
// agent writes:
//
//   - responses complete the request that is waiting for them
//   - server requests are answered by the rpc.Responder, which approves
//     command and patch approvals and rejects everything else
//   - notifications drive the Dispatcher, the turn state machine that
//     renders the transcript and tracks status, tool inventory and token
//     usage
//
// # Usage
//
//	cfg, _, err := config.LoadConfig()
//	if err != nil {
//	    // handle error
//	}
//	s := agent.NewSession(cfg,
//	    agent.WithTranscript(os.Stdout),
//	    agent.WithLogin(login),
//	)
//	if err := s.Start(ctx, workdir); err != nil {
//	    // handle error
//	}
//	defer s.Stop()
//
//	err = s.SubmitTurn(ctx, "run the tests and fix what fails")
//
// SubmitTurn returns once the agent accepted the turn. Progress arrives
// asynchronously; Status and Busy report where the turn is.
//
// # Authorization
//
// When the agent reports an authorization failure the session runs the
// configured login once and restarts, resuming the conversation. Further
// failures within the same session are reported without retrying until
// the user starts, restarts or reconfigures the session.
//
// # Subpackages
//
// agent/terminal: an interactive prompt on top of a Session.
package agent
