package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/logging"
	"github.com/sirupsen/logrus"
)

var nullResult = json.RawMessage("null")

// Call is an outstanding request. It completes exactly once.
type Call struct {
	ID     int64
	Method string

	done   chan struct{}
	result json.RawMessage
	err    error
}

// Done is closed when the call completes.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome. It blocks until the call completes.
func (c *Call) Result() (json.RawMessage, error) {
	<-c.done
	return c.result, c.err
}

// ErrorHook observes every error response before the waiting caller does.
type ErrorHook func(method string, rpcErr *errors.RPCError)

// Correlator assigns ids to outbound requests and routes responses back to
// the callers waiting on them.
type Correlator struct {
	send    func([]byte) error
	nextID  atomic.Int64
	onError ErrorHook
	logger  *logrus.Entry

	mu      sync.Mutex
	pending map[int64]*Call
}

// NewCorrelator returns a correlator that writes encoded requests with send.
func NewCorrelator(send func([]byte) error) *Correlator {
	return &Correlator{
		send:    send,
		pending: make(map[int64]*Call),
		logger:  logging.NewLogger("rpc"),
	}
}

// OnError installs the hook run for each error response.
func (c *Correlator) OnError(hook ErrorHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = hook
}

// Go sends a request and returns without waiting for the response. If the
// request cannot be written the returned call is already failed.
func (c *Correlator) Go(method string, params any) *Call {
	call := &Call{
		ID:     c.nextID.Add(1),
		Method: method,
		done:   make(chan struct{}),
	}

	data, err := EncodeRequest(call.ID, method, params)
	if err != nil {
		c.finish(call, nil, err)
		return call
	}

	c.mu.Lock()
	c.pending[call.ID] = call
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{"id": call.ID, "method": method}).Debug("request")
	if err := c.send(data); err != nil {
		if c.take(call.ID) != nil {
			c.finish(call, nil, errors.Wrapf(err, "failed to send %s", method))
		}
	}
	return call
}

// Call sends a request and waits for its response. Cancelling ctx abandons
// the call with ErrCancelled; nothing is sent to the agent.
func (c *Correlator) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	call := c.Go(method, params)
	select {
	case <-call.done:
		return call.result, call.err
	case <-ctx.Done():
		if c.Cancel(call.ID) {
			return nil, errors.ErrCancelled
		}
		// Completed concurrently with cancellation.
		return call.Result()
	}
}

// Cancel fails the pending call with ErrCancelled. It reports whether a
// pending call was found.
func (c *Correlator) Cancel(id int64) bool {
	call := c.take(id)
	if call == nil {
		return false
	}
	c.finish(call, nil, errors.ErrCancelled)
	return true
}

// Resolve completes the call a response belongs to. Responses whose id is
// unknown are logged and dropped, and Resolve reports false.
func (c *Correlator) Resolve(msg *Message) bool {
	id, ok := IntID(msg.ID)
	if !ok {
		c.logger.WithField("id", string(msg.ID)).Warn("response with non-numeric id")
		return false
	}
	call := c.take(id)
	if call == nil {
		c.logger.WithField("id", id).Warn("response for unknown request")
		return false
	}

	if msg.Error != nil {
		c.mu.Lock()
		hook := c.onError
		c.mu.Unlock()
		if hook != nil {
			hook(call.Method, msg.Error)
		}
		c.finish(call, nil, msg.Error)
		return true
	}

	result := msg.Result
	if len(result) == 0 {
		result = nullResult
	}
	c.finish(call, result, nil)
	return true
}

// FailAll fails every pending call with err and returns how many there were.
func (c *Correlator) FailAll(err error) int {
	c.mu.Lock()
	calls := make([]*Call, 0, len(c.pending))
	for id, call := range c.pending {
		calls = append(calls, call)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	for _, call := range calls {
		c.finish(call, nil, err)
	}
	return len(calls)
}

// Pending returns the number of outstanding calls.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// take removes a call from the pending table. Only the caller that removes
// it may complete it.
func (c *Correlator) take(id int64) *Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return call
}

func (c *Correlator) finish(call *Call, result json.RawMessage, err error) {
	call.result = result
	call.err = err
	close(call.done)
}
