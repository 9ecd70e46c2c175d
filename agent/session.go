package agent

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/m4xw311/agentwire/auth"
	"github.com/m4xw311/agentwire/config"
	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/logging"
	"github.com/m4xw311/agentwire/models"
	"github.com/m4xw311/agentwire/process"
	"github.com/m4xw311/agentwire/rpc"
	"github.com/m4xw311/agentwire/session"
	"github.com/m4xw311/agentwire/usage"
	"github.com/sirupsen/logrus"
)

const (
	handshakeTimeout  = 30 * time.Second
	reauthTimeout     = 5 * time.Minute
	unsubscribeWait   = time.Second
	approvalPolicy    = "never"
	reasoningSummary  = "auto"
	authRetries       = 1
	sandboxWorkspace  = "workspace-write"
	clientName        = "agentwire"
	defaultClientVers = "dev"
)

// LoginFunc signs the agent in again and returns the login exit code.
type LoginFunc func(ctx context.Context) (int, error)

// Option configures a Session.
type Option func(*Session)

// WithTranscript sets where the conversation is rendered.
func WithTranscript(w io.Writer) Option {
	return func(s *Session) { s.out = NewTranscript(w) }
}

func WithRefresher(r Refresher) Option {
	return func(s *Session) { s.refresher = r }
}

// WithLogin sets the collaborator used when the agent reports an
// authorization failure.
func WithLogin(login LoginFunc) Option {
	return func(s *Session) { s.login = login }
}

// WithContextWindow overrides the context-window lookup used when the agent
// does not report one.
func WithContextWindow(lookup func(model string) int64) Option {
	return func(s *Session) { s.contextWindow = lookup }
}

func WithStatusListener(fn func(Status)) Option {
	return func(s *Session) { s.onStatus = fn }
}

func WithUsageListener(fn func(usage.Report)) Option {
	return func(s *Session) { s.onUsage = fn }
}

// WithRecordStore saves a resume record for every conversation.
func WithRecordStore(store *session.Store) Option {
	return func(s *Session) { s.records = store }
}

func WithClientVersion(version string) Option {
	return func(s *Session) { s.clientVersion = version }
}

// Session runs one agent process and the conversation held with it.
type Session struct {
	sup    *process.Supervisor
	corr   *rpc.Correlator
	resp   *rpc.Responder
	disp   *Dispatcher
	out    *Transcript
	budget *RetryBudget
	logger *logrus.Entry

	refresher     Refresher
	login         LoginFunc
	contextWindow func(string) int64
	onStatus      func(Status)
	onUsage       func(usage.Report)
	records       *session.Store
	clientVersion string
	mcpServers    []config.MCPServer
	execLimit     int
	execPolicy    *ExecPolicy
	refreshIgnore []string

	// lifecycle serializes Start, Stop and Restart.
	lifecycle sync.Mutex
	stopping  atomic.Bool
	loopDone  chan struct{}

	mu             sync.Mutex
	settings       config.Settings
	workdir        string
	conversationID string
	subscriptionID string
	model          string
	rolloutPath    string
}

// NewSession prepares a session for the agent command in cfg. Nothing is
// spawned until Start.
func NewSession(cfg *config.Config, opts ...Option) *Session {
	s := &Session{
		budget:        NewRetryBudget(authRetries),
		logger:        logging.NewLogger("session"),
		contextWindow: models.ContextWindow,
		clientVersion: defaultClientVers,
		settings:      cfg.Settings(),
		mcpServers:    cfg.EnabledMCPServers(),
		execLimit:     cfg.ExecOutputLimit,
		execPolicy:    NewExecPolicy(cfg.ExecDenylist),
		refreshIgnore: cfg.RefreshIgnore,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.out == nil {
		s.out = NewTranscript(io.Discard)
	}

	s.sup = process.New(cfg.Agent.Command, cfg.Agent.Args,
		process.WithEnv(cfg.Agent.Env),
		process.WithLogger(logging.NewLogger("agent-process")))
	s.corr = rpc.NewCorrelator(s.sup.Send)
	s.corr.OnError(s.requestFailed)
	s.resp = rpc.NewResponder(s.sup.Send, func(line string) { s.out.Printf("%s", line) })
	s.disp = NewDispatcher(s.out, DispatcherOptions{
		Verbose:         s.settings.Verbose,
		ExecOutputLimit: s.execLimit,
		ExecPolicy:      s.execPolicy,
		Refresher:       s.refresher,
		RefreshIgnore:   s.refreshIgnore,
		ContextWindow:   s.contextWindow,
		OnStatus:        s.onStatus,
		OnUnauthorized:  s.unauthorized,
		OnConfigured:    s.configured,
		OnUsage:         s.onUsage,
	})

	// Pending requests never outlive the process.
	s.sup.OnExit(func(error) {
		if n := s.corr.FailAll(errors.ErrProcessExited); n > 0 {
			s.logger.WithField("pending", n).Warn("failed pending requests on exit")
		}
	})
	return s
}

// Start spawns the agent in workdir and opens a new conversation.
func (s *Session) Start(ctx context.Context, workdir string) error {
	s.budget.Reset()
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.start(ctx, workdir, nil)
}

// Resume spawns the agent and continues a stored conversation.
func (s *Session) Resume(ctx context.Context, workdir string, rec session.Record) error {
	s.budget.Reset()
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.start(ctx, workdir, &rec)
}

// Stop ends the conversation and terminates the agent.
func (s *Session) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.stop()
}

// Restart stops the agent and starts it again in the same directory,
// resuming the current conversation when it can be resumed.
func (s *Session) Restart(ctx context.Context) error {
	s.budget.Reset()
	return s.restart(ctx)
}

// Reconfigure applies new settings, restarting a running agent when the
// settings changed.
func (s *Session) Reconfigure(ctx context.Context, cfg *config.Config) error {
	next := cfg.Settings()
	s.mu.Lock()
	changed := next != s.settings
	s.settings = next
	s.mcpServers = cfg.EnabledMCPServers()
	s.mu.Unlock()

	s.disp.SetVerbose(next.Verbose)
	if !changed || !s.sup.Running() {
		return nil
	}
	s.logger.Info("settings changed, restarting agent")
	s.out.Printf("settings changed, restarting")
	return s.Restart(ctx)
}

func (s *Session) restart(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	workdir := s.workdir
	var rec *session.Record
	if s.rolloutPath != "" {
		rec = &session.Record{ConversationID: s.conversationID, Model: s.model, RolloutPath: s.rolloutPath, Cwd: workdir}
	}
	s.mu.Unlock()

	if err := s.stop(); err != nil {
		s.logger.WithError(err).Warn("stop before restart")
	}
	return s.start(ctx, workdir, rec)
}

func (s *Session) start(ctx context.Context, workdir string, resume *session.Record) error {
	if s.sup.Running() {
		return errors.ErrAlreadyRunning
	}
	if s.loopDone != nil {
		// The previous process exited on its own; let its loop finish.
		<-s.loopDone
	}

	s.stopping.Store(false)
	s.disp.Reset()
	s.disp.SetWorkdir(workdir)
	s.disp.SetStatus(StatusStarting)
	s.mu.Lock()
	s.workdir = workdir
	s.subscriptionID = ""
	s.mu.Unlock()

	if err := s.sup.Start(workdir); err != nil {
		s.out.Printf("failed to start agent: %v", err)
		s.disp.SetStatus(StatusError)
		return err
	}
	done := make(chan struct{})
	s.loopDone = done
	go s.loop(s.sup.Events(), done)

	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	if err := s.handshake(ctx, workdir, resume); err != nil {
		s.out.Printf("failed to open conversation: %v", err)
		if stopErr := s.stop(); stopErr != nil {
			s.logger.WithError(stopErr).Warn("stop after failed handshake")
		}
		s.disp.SetStatus(StatusError)
		return err
	}

	s.disp.SetStatus(StatusIdle)
	return nil
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ClientInfo clientInfo `json:"clientInfo"`
}

type newConversationParams struct {
	Model          string         `json:"model,omitempty"`
	Profile        string         `json:"profile,omitempty"`
	Cwd            string         `json:"cwd,omitempty"`
	ApprovalPolicy string         `json:"approvalPolicy,omitempty"`
	Sandbox        string         `json:"sandbox,omitempty"`
	Config         map[string]any `json:"config,omitempty"`
}

type resumeConversationParams struct {
	Path      string                `json:"path"`
	Overrides newConversationParams `json:"overrides"`
}

type conversationResult struct {
	ConversationID string `json:"conversationId"`
	Model          string `json:"model"`
	RolloutPath    string `json:"rolloutPath"`
}

type subscriptionResult struct {
	SubscriptionID string `json:"subscriptionId"`
}

func (s *Session) conversationParams(workdir string) newConversationParams {
	s.mu.Lock()
	defer s.mu.Unlock()

	params := newConversationParams{
		Model:          s.settings.Model,
		Profile:        s.settings.Profile,
		Cwd:            workdir,
		ApprovalPolicy: approvalPolicy,
		Sandbox:        s.settings.Sandbox,
	}
	if s.settings.MCPEnabled && len(s.mcpServers) > 0 {
		servers := make(map[string]any)
		for _, def := range s.mcpServers {
			if def.IsRemote() || def.Command == "" {
				continue
			}
			entry := map[string]any{"command": def.Command}
			if len(def.Args) > 0 {
				entry["args"] = def.Args
			}
			if len(def.Env) > 0 {
				entry["env"] = def.Env
			}
			servers[def.Name] = entry
		}
		if len(servers) > 0 {
			params.Config = map[string]any{"mcp_servers": servers}
		}
	}
	return params
}

func (s *Session) handshake(ctx context.Context, workdir string, resume *session.Record) error {
	if _, err := s.corr.Call(ctx, "initialize", initializeParams{
		ClientInfo: clientInfo{Name: clientName, Version: s.clientVersion},
	}); err != nil {
		if !errors.As(err, new(*errors.RPCError)) {
			return errors.Wrapf(err, "initialize")
		}
		s.logger.WithError(err).Warn("initialize failed, continuing")
	}

	var (
		raw json.RawMessage
		err error
	)
	params := s.conversationParams(workdir)
	if resume != nil {
		raw, err = s.corr.Call(ctx, "resumeConversation", resumeConversationParams{Path: resume.RolloutPath, Overrides: params})
	} else {
		raw, err = s.corr.Call(ctx, "newConversation", params)
	}
	if err != nil {
		return errors.Wrapf(err, "open conversation")
	}
	var conv conversationResult
	if err := json.Unmarshal(raw, &conv); err != nil || conv.ConversationID == "" {
		return errors.New("agent returned no conversation id: %s", string(raw))
	}
	if conv.RolloutPath == "" && resume != nil {
		conv.RolloutPath = resume.RolloutPath
	}

	raw, err = s.corr.Call(ctx, "addConversationListener", map[string]string{"conversationId": conv.ConversationID})
	if err != nil {
		return errors.Wrapf(err, "subscribe to conversation")
	}
	var sub subscriptionResult
	if err := json.Unmarshal(raw, &sub); err != nil {
		return errors.Wrapf(err, "decode subscription")
	}

	s.mu.Lock()
	s.conversationID = conv.ConversationID
	s.subscriptionID = sub.SubscriptionID
	if conv.Model != "" {
		s.model = conv.Model
	}
	s.rolloutPath = conv.RolloutPath
	model := s.model
	s.mu.Unlock()

	s.disp.SetModel(model)
	s.logger.WithFields(logrus.Fields{"conversation": conv.ConversationID, "model": model}).Info("conversation ready")
	s.saveRecord()
	return nil
}

func (s *Session) stop() error {
	if !s.sup.Running() {
		if st := s.disp.Status(); st != StatusDisconnected && st != StatusError {
			s.disp.SetStatus(StatusStopped)
		}
		return nil
	}
	s.stopping.Store(true)

	s.mu.Lock()
	sub := s.subscriptionID
	s.subscriptionID = ""
	s.mu.Unlock()
	if sub != "" {
		call := s.corr.Go("removeConversationListener", map[string]string{"subscriptionId": sub})
		select {
		case <-call.Done():
		case <-time.After(unsubscribeWait):
			s.corr.Cancel(call.ID)
		}
	}

	err := s.sup.Stop()
	if s.loopDone != nil {
		<-s.loopDone
	}
	s.disp.SetStatus(StatusStopped)
	return err
}

// loop is the single dispatch goroutine of one process lifetime.
func (s *Session) loop(events <-chan process.Event, done chan struct{}) {
	defer close(done)
	for ev := range events {
		switch ev.Kind {
		case process.EventLine:
			s.handleLine(ev)
		case process.EventExited:
			s.exited(ev)
		}
	}
}

func (s *Session) handleLine(ev process.Event) {
	if ev.Stream == process.Stderr {
		s.logger.WithField("stream", "stderr").Debug(ev.Line)
		s.echo(ev.Line)
		return
	}
	msg, err := rpc.Classify([]byte(ev.Line))
	if err != nil {
		s.logger.WithField("stream", "stdout").Info(ev.Line)
		s.echo(ev.Line)
		return
	}
	switch msg.Kind {
	case rpc.KindResponse:
		s.corr.Resolve(msg)
	case rpc.KindServerRequest:
		if err := s.resp.Handle(msg); err != nil {
			s.logger.WithError(err).Warn("failed to answer server request")
		}
	case rpc.KindNotification:
		s.disp.Handle(msg)
	case rpc.KindLegacyError:
		s.disp.HandleLegacyError(msg)
	}
}

// echo shows raw agent output in verbose mode.
func (s *Session) echo(line string) {
	if s.disp.verbose.Load() && line != "" {
		s.out.Printf("%s", line)
	}
}

func (s *Session) exited(ev process.Event) {
	s.disp.closeStream()
	switch {
	case s.stopping.Load():
		s.disp.SetStatus(StatusStopped)
	case ev.ExitCode == 0:
		s.out.Printf("agent exited")
		s.disp.SetStatus(StatusStopped)
	default:
		s.out.Printf("agent exited with code %d", ev.ExitCode)
		s.disp.SetStatus(StatusError)
	}
}

// requestFailed sees every error response before its caller does.
func (s *Session) requestFailed(method string, rpcErr *errors.RPCError) {
	s.logger.WithFields(logrus.Fields{"method": method, "code": rpcErr.Code}).Warn(rpcErr.Message)
	s.out.Printf("error: %s: %s", method, rpcErr.Message)
	if auth.IsUnauthorized(rpcErr.Message) {
		s.unauthorized(rpcErr.Message)
	}
}

// unauthorized spends the session's retry budget on one sign-in attempt.
// It runs on the dispatch goroutine, so the sign-in and restart run
// elsewhere.
func (s *Session) unauthorized(message string) {
	if !s.budget.Take() {
		s.out.Printf("authorization failed again, not retrying")
		s.disp.SetStatus(StatusError)
		return
	}
	s.out.Printf("authorization failed, signing in again")
	go s.reauth()
}

func (s *Session) reauth() {
	if s.login == nil {
		s.out.Printf("no login available")
		s.disp.SetStatus(StatusError)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), reauthTimeout)
	defer cancel()

	code, err := s.login(ctx)
	if err != nil || code != 0 {
		s.logger.WithError(err).WithField("exit_code", code).Warn("login failed")
		s.out.Printf("login failed")
		s.disp.SetStatus(StatusError)
		return
	}
	if err := s.restart(ctx); err != nil {
		s.logger.WithError(err).Warn("restart after login failed")
	}
}

func (s *Session) configured(c Configured) {
	s.mu.Lock()
	if c.SessionID != "" && s.conversationID == "" {
		s.conversationID = c.SessionID
	}
	if c.Model != "" {
		s.model = c.Model
	}
	if c.RolloutPath != "" {
		s.rolloutPath = c.RolloutPath
	}
	s.mu.Unlock()
	s.saveRecord()
}

func (s *Session) saveRecord() {
	if s.records == nil {
		return
	}
	s.mu.Lock()
	rec := session.Record{
		ConversationID: s.conversationID,
		Model:          s.model,
		RolloutPath:    s.rolloutPath,
		Cwd:            s.workdir,
	}
	s.mu.Unlock()
	if rec.ConversationID == "" || rec.RolloutPath == "" {
		return
	}
	if err := s.records.Save(rec); err != nil {
		s.logger.WithError(err).Warn("failed to save session record")
	}
}

type userInput struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

type sandboxPolicy struct {
	Mode          string `json:"mode"`
	NetworkAccess *bool  `json:"network_access,omitempty"`
}

type sendUserTurnParams struct {
	ConversationID string        `json:"conversationId"`
	Items          []userInput   `json:"items"`
	Cwd            string        `json:"cwd"`
	ApprovalPolicy string        `json:"approvalPolicy"`
	SandboxPolicy  sandboxPolicy `json:"sandboxPolicy"`
	Model          string        `json:"model"`
	Summary        string        `json:"summary"`
}

func (s *Session) turnParams(text string) (sendUserTurnParams, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID == "" {
		return sendUserTurnParams{}, errors.ErrNotRunning
	}

	policy := sandboxPolicy{Mode: s.settings.Sandbox}
	if policy.Mode == sandboxWorkspace {
		network := s.settings.NetworkAccess
		policy.NetworkAccess = &network
	}
	model := s.settings.Model
	if model == "" {
		model = s.model
	}
	return sendUserTurnParams{
		ConversationID: s.conversationID,
		Items:          []userInput{{Type: "text", Data: map[string]string{"text": text}}},
		Cwd:            s.workdir,
		ApprovalPolicy: approvalPolicy,
		SandboxPolicy:  policy,
		Model:          model,
		Summary:        reasoningSummary,
	}, nil
}

// SubmitTurn sends user text to the agent. It returns once the agent
// accepted the turn; progress arrives as notifications.
func (s *Session) SubmitTurn(ctx context.Context, text string) error {
	if !s.sup.Running() {
		return errors.ErrNotRunning
	}
	params, err := s.turnParams(text)
	if err != nil {
		return err
	}

	turn := uuid.NewString()
	logger := s.logger.WithFields(logrus.Fields{"turn": turn, "conversation": params.ConversationID})
	logger.Debug("submitting turn")

	s.disp.NoteSent(text)
	s.disp.SetStatus(StatusThinking)
	if _, err := s.corr.Call(ctx, "sendUserTurn", params); err != nil {
		logger.WithError(err).Warn("turn rejected")
		if errors.As(err, new(*errors.RPCError)) && s.disp.Status() == StatusThinking {
			s.disp.SetStatus(StatusIdle)
		}
		return err
	}
	return nil
}

// Interrupt asks the agent to abort the running turn.
func (s *Session) Interrupt(ctx context.Context) error {
	id := s.ConversationID()
	if id == "" || !s.sup.Running() {
		return errors.ErrNotRunning
	}
	_, err := s.corr.Call(ctx, "interruptConversation", map[string]string{"conversationId": id})
	return err
}

func (s *Session) Status() Status { return s.disp.Status() }

// Busy reports whether a turn is in progress.
func (s *Session) Busy() bool { return s.disp.Busy() }

func (s *Session) Usage() usage.Report { return s.disp.Usage() }

// Tools returns the fully qualified names of the tools the agent reported.
func (s *Session) Tools() []string { return s.disp.Inventory().Names() }

func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Record returns the resume record of the current conversation.
func (s *Session) Record() session.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return session.Record{
		ConversationID: s.conversationID,
		Model:          s.model,
		RolloutPath:    s.rolloutPath,
		Cwd:            s.workdir,
	}
}

func (s *Session) Transcript() *Transcript { return s.out }
