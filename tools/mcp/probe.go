// Package mcp queries the tool inventory of configured MCP servers with a
// short-lived handshake: spawn, initialize, list tools, tear down.
package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"github.com/m4xw311/agentwire/config"
	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/logging"
	"github.com/m4xw311/agentwire/process"
	"github.com/m4xw311/agentwire/rpc"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	ProtocolVersion    = "2025-06-18"
	DefaultTimeout     = 10 * time.Second
	defaultParallelism = 8
)

// ErrRemoteUnsupported is reported for servers reached over a URL.
var ErrRemoteUnsupported = stderrors.New("remote MCP servers are not supported")

// Result is the outcome of probing one server. Tools is empty when Err is set.
type Result struct {
	Server   string
	Tools    []*mcpsdk.Tool
	Instance *mcpsdk.Implementation
	Elapsed  time.Duration
	Err      error
}

// Names returns the tool names in the order the server reported them.
func (r Result) Names() []string {
	names := make([]string, 0, len(r.Tools))
	for _, t := range r.Tools {
		names = append(names, t.Name)
	}
	return names
}

type options struct {
	clientInfo  mcpsdk.Implementation
	timeout     time.Duration
	parallelism int
}

type Option func(*options)

// WithClientInfo sets the implementation reported in initialize.
func WithClientInfo(name, version string) Option {
	return func(o *options) { o.clientInfo = mcpsdk.Implementation{Name: name, Version: version} }
}

// WithTimeout overrides the timeout of servers that set none.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithParallelism bounds how many servers ProbeAll spawns at once.
func WithParallelism(n int) Option {
	return func(o *options) { o.parallelism = n }
}

func buildOptions(opts []Option) options {
	o := options{
		clientInfo:  mcpsdk.Implementation{Name: "agentwire", Version: "dev"},
		timeout:     DefaultTimeout,
		parallelism: defaultParallelism,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ProbeAll probes every server concurrently. Results keep the order of defs
// and one failing server never affects the others.
func ProbeAll(ctx context.Context, defs []config.MCPServer, opts ...Option) []Result {
	o := buildOptions(opts)
	results := make([]Result, len(defs))

	var g errgroup.Group
	if o.parallelism > 0 {
		g.SetLimit(o.parallelism)
	}
	for i, def := range defs {
		g.Go(func() error {
			results[i] = Probe(ctx, def, opts...)
			return nil
		})
	}
	g.Wait()
	return results
}

// Probe spawns one server, performs the initialize and tools/list
// handshake and terminates the process before returning.
func Probe(ctx context.Context, def config.MCPServer, opts ...Option) (res Result) {
	o := buildOptions(opts)
	logger := logging.NewLogger("mcp").WithField("server", def.Name)
	start := time.Now()

	res = Result{Server: def.Name}
	switch {
	case def.IsRemote():
		res.Err = ErrRemoteUnsupported
		return res
	case def.Command == "":
		res.Err = errors.New("MCP server '%s' has no command", def.Name)
		return res
	}

	timeout := def.StartupTimeout
	if timeout <= 0 {
		timeout = o.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sup := process.New(def.Command, def.Args,
		process.WithEnv(def.Env),
		process.WithLogger(logger))
	corr := rpc.NewCorrelator(sup.Send)
	sup.OnExit(func(error) {
		corr.FailAll(errors.ErrProcessExited)
	})

	if err := sup.Start(def.Cwd); err != nil {
		res.Err = err
		return res
	}

	var reader sync.WaitGroup
	reader.Add(1)
	go func() {
		defer reader.Done()
		readResponses(sup.Events(), corr, logger)
	}()
	defer func() {
		shutdown(sup, logger)
		reader.Wait()
		res.Elapsed = time.Since(start)
	}()

	tools, info, err := handshake(ctx, sup, corr, o.clientInfo)
	if err != nil {
		if errors.Is(err, errors.ErrCancelled) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = errors.Wrapf(errors.ErrTimeout, "MCP server '%s' did not answer within %s", def.Name, timeout)
		}
		logger.WithError(err).Warn("probe failed")
		res.Err = err
		return res
	}

	logger.WithField("tools", len(tools)).Info("probed MCP server")
	res.Tools = tools
	res.Instance = info
	return res
}

func handshake(ctx context.Context, sup *process.Supervisor, corr *rpc.Correlator, client mcpsdk.Implementation) ([]*mcpsdk.Tool, *mcpsdk.Implementation, error) {
	raw, err := corr.Call(ctx, "initialize", &mcpsdk.InitializeParams{
		Capabilities:    &mcpsdk.ClientCapabilities{},
		ClientInfo:      &client,
		ProtocolVersion: ProtocolVersion,
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "initialize")
	}
	var initResult mcpsdk.InitializeResult
	if err := json.Unmarshal(raw, &initResult); err != nil {
		return nil, nil, errors.Wrapf(err, "decode initialize result")
	}

	note, err := rpc.EncodeNotification("notifications/initialized", struct{}{})
	if err != nil {
		return nil, nil, err
	}
	if err := sup.Send(note); err != nil {
		return nil, nil, errors.Wrapf(err, "send initialized notification")
	}

	raw, err = corr.Call(ctx, "tools/list", struct{}{})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "tools/list")
	}
	var list mcpsdk.ListToolsResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, nil, errors.Wrapf(err, "decode tools/list result")
	}
	return list.Tools, initResult.ServerInfo, nil
}

// readResponses routes responses to the correlator until the process
// exits. Anything else on stdout is skipped.
func readResponses(events <-chan process.Event, corr *rpc.Correlator, logger *logrus.Entry) {
	for ev := range events {
		if ev.Kind != process.EventLine {
			continue
		}
		if ev.Stream == process.Stderr {
			logger.Debug(ev.Line)
			continue
		}
		msg, err := rpc.Classify([]byte(ev.Line))
		if err != nil || msg.Kind != rpc.KindResponse {
			continue
		}
		corr.Resolve(msg)
	}
}

func shutdown(sup *process.Supervisor, logger *logrus.Entry) {
	if note, err := rpc.EncodeNotification("shutdown", nil); err == nil {
		if err := sup.Send(note); err != nil {
			logger.WithError(err).Debug("shutdown notification")
		}
	}
	if err := sup.CloseStdin(); err != nil {
		logger.WithError(err).Debug("close stdin")
	}
	if err := sup.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop MCP server")
	}
}
