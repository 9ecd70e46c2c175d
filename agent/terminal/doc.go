// Package terminal implements the interactive command-line mode.
//
// Plain input lines are submitted as user turns. Lines starting with '/'
// are commands:
//
//   - /interrupt aborts the running turn
//   - /restart restarts the agent and resumes the conversation
//   - /status, /usage and /tools print session state
//   - /quit or /exit end the session
//
// A turn cannot be submitted while the agent is busy; the prompt reappears
// once it is idle again.
package terminal
