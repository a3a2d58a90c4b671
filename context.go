package ftp

import (
	"crypto/tls"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// signal is what the dispatcher hands to the active task's handler: exactly
// one of a complete server reply, a chunk from the data socket, the end of
// the data socket, or an error.
type signal struct {
	resp    *Response
	chunk   []byte
	dataEnd bool
	err     error
}

// handlerFunc inspects signals for one task and settles it by calling
// resolve or reject at most once. Until it settles, every further signal
// keeps flowing to it. Handlers run on the dispatcher goroutine.
type handlerFunc func(sig signal, t *task)

type taskResult struct {
	resp *Response
	err  error
}

// task is one outstanding client operation. The dispatcher permits at most
// one at a time.
type task struct {
	handler handlerFunc
	result  chan taskResult

	once    sync.Once
	settled atomic.Bool
}

func newTask(h handlerFunc) *task {
	return &task{handler: h, result: make(chan taskResult, 1)}
}

func (t *task) complete(r *Response, err error) {
	t.once.Do(func() {
		t.settled.Store(true)
		t.result <- taskResult{resp: r, err: err}
	})
}

// resolve settles the task successfully.
func (t *task) resolve(r *Response) { t.complete(r, nil) }

// reject settles the task with an error.
func (t *task) reject(err error) { t.complete(nil, err) }

// dispatcher owns the control socket and the transient data socket, turns
// their events into signals, and routes every signal to the single pending
// task until its handler settles it.
type dispatcher struct {
	events chan socketEvent
	done   chan struct{}
	logger *slog.Logger

	timeout time.Duration

	mu          sync.Mutex
	control     *socket
	data        *socket
	task        *task
	parser      replyParser
	closed      bool
	deferredErr error // pending failure to report on the next dispatch
}

func newDispatcher(timeout time.Duration, logger *slog.Logger) *dispatcher {
	d := &dispatcher{
		events:  make(chan socketEvent, 16),
		done:    make(chan struct{}),
		logger:  logger,
		timeout: timeout,
	}
	go d.loop()
	return d
}

func (d *dispatcher) loop() {
	for {
		select {
		case ev := <-d.events:
			d.route(ev)
		case <-d.done:
			return
		}
	}
}

// route applies the single-channel discipline: control-socket data feeds the
// reply parser, data-socket data becomes chunk signals, everything terminal
// becomes an error signal. Events from sockets that are no longer installed
// are dropped, except that their close is observed to release the conn.
func (d *dispatcher) route(ev socketEvent) {
	d.mu.Lock()
	isControl := ev.sock == d.control
	isData := ev.sock == d.data
	d.mu.Unlock()

	if !isControl && !isData {
		if ev.kind != eventData {
			ev.sock.close()
		}
		return
	}

	if isControl {
		switch ev.kind {
		case eventData:
			responses, err := d.feedParser(ev.data)
			for _, r := range responses {
				d.logger.Debug("ftp response", "code", r.Code, "message", r.Message)
				d.signalTask(signal{resp: r})
			}
			if err != nil {
				d.fail(err)
			}
		case eventTimeout:
			d.fail(ErrTimeout)
		case eventError:
			d.fail(&TransportError{Err: ev.err})
		case eventClosed:
			d.fail(&TransportError{Err: net.ErrClosed})
		}
		return
	}

	// data socket
	switch ev.kind {
	case eventData:
		d.signalTask(signal{chunk: ev.data})
	case eventClosed:
		d.closeData()
		d.signalTask(signal{dataEnd: true})
	case eventTimeout:
		d.fail(ErrTimeout)
	case eventError:
		d.fail(&TransportError{Err: ev.err})
	}
}

func (d *dispatcher) feedParser(data []byte) ([]*Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.parser.feed(data)
}

// signalTask delivers one signal to the pending task, clearing the slot
// once the handler settles. Signals with no task pending are dropped.
func (d *dispatcher) signalTask(sig signal) {
	d.mu.Lock()
	t := d.task
	d.mu.Unlock()
	if t == nil || t.settled.Load() {
		return
	}

	t.handler(sig, t)

	if t.settled.Load() {
		d.mu.Lock()
		if d.task == t {
			d.task = nil
		}
		d.mu.Unlock()
	}
}

// fail rejects the pending task with err and closes the dispatcher. With no
// task pending the error is deferred and reported by the next dispatch.
func (d *dispatcher) fail(err error) {
	d.mu.Lock()
	t := d.task
	d.task = nil
	if t == nil && d.deferredErr == nil && !d.closed {
		d.deferredErr = err
	}
	d.mu.Unlock()

	if t != nil {
		t.reject(err)
	}
	d.close()
}

// begin installs a task and writes the command, if any, to the control
// socket. The caller must follow with await. Splitting the two lets Dial
// install the greeting handler before the socket starts delivering events.
func (d *dispatcher) begin(command string, h handlerFunc) (*task, error) {
	d.mu.Lock()
	if d.closed {
		err := d.deferredErr
		d.deferredErr = nil
		d.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, ErrClosed
	}
	if d.deferredErr != nil {
		err := d.deferredErr
		d.deferredErr = nil
		d.mu.Unlock()
		return nil, err
	}
	if d.task != nil {
		d.mu.Unlock()
		return nil, ErrBusy
	}
	t := newTask(h)
	d.task = t
	sock := d.control
	d.mu.Unlock()

	if command != "" {
		if err := d.writeCommand(sock, command); err != nil {
			d.fail(&TransportError{Err: err})
		}
	}
	return t, nil
}

func (d *dispatcher) await(t *task) (*Response, error) {
	res := <-t.result
	return res.resp, res.err
}

// dispatch installs handler as the pending task, optionally writes command,
// and blocks until the handler settles the task.
func (d *dispatcher) dispatch(command string, h handlerFunc) (*Response, error) {
	t, err := d.begin(command, h)
	if err != nil {
		return nil, err
	}
	return d.await(t)
}

// sendRaw writes a follow-up command on the control socket without touching
// the pending task. Used by handlers that continue a flow mid-task, such as
// RETR after a 350 reply to REST.
func (d *dispatcher) sendRaw(command string) error {
	d.mu.Lock()
	sock := d.control
	closed := d.closed
	d.mu.Unlock()
	if closed || sock == nil {
		return ErrClosed
	}
	return d.writeCommand(sock, command)
}

// writeCommand appends CRLF and logs the command with the PASS argument
// redacted.
func (d *dispatcher) writeCommand(sock *socket, command string) error {
	d.logger.Debug("ftp command", "cmd", redactCommand(command))
	if sock == nil {
		return ErrClosed
	}
	return sock.write([]byte(command + "\r\n"))
}

// redactCommand masks the PASS argument so credentials never reach a log
// sink in clear text.
func redactCommand(command string) string {
	if len(command) >= 4 && strings.EqualFold(command[:4], "PASS") &&
		(len(command) == 4 || command[4] == ' ') {
		return "PASS ###"
	}
	return command
}

// setControlSocket installs conn as the control socket, replacing and
// detaching the previous one. Keep-alive and the configured timeout are
// applied by the socket itself.
func (d *dispatcher) setControlSocket(conn net.Conn) {
	s := newSocket(conn, d.timeout, d.events, d.done)
	d.mu.Lock()
	old := d.control
	d.control = s
	d.mu.Unlock()
	if old != nil {
		old.detach()
	}
}

// upgradeControl swaps the control socket for a TLS-wrapped one. Called
// from the AUTH TLS handler; the handshake is the one nested suspension a
// handler is allowed.
func (d *dispatcher) upgradeControl(config *tls.Config) error {
	d.mu.Lock()
	old := d.control
	d.mu.Unlock()
	if old == nil {
		return ErrClosed
	}

	s, err := old.upgradeTLS(config, d.events, d.done)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.control = s
	d.mu.Unlock()
	return nil
}

// setDataSocket installs conn as the transient data socket.
func (d *dispatcher) setDataSocket(conn net.Conn) {
	s := newSocket(conn, d.timeout, d.events, d.done)
	d.mu.Lock()
	old := d.data
	d.data = s
	d.mu.Unlock()
	if old != nil {
		old.close()
	}
}

// dataSocket returns the currently installed data socket, if any.
func (d *dispatcher) dataSocket() *socket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data
}

// closeData destroys and clears the data socket slot. Safe to call with no
// data socket installed.
func (d *dispatcher) closeData() {
	d.mu.Lock()
	s := d.data
	d.data = nil
	d.mu.Unlock()
	if s != nil {
		s.close()
	}
}

// injectError feeds an error into the event stream on behalf of sock. Used
// by the upload pipe goroutine, which fails outside the pump.
func (d *dispatcher) injectError(sock *socket, err error) {
	select {
	case d.events <- socketEvent{sock: sock, kind: eventError, err: err}:
	case <-d.done:
	}
}

// close tears down both sockets and rejects the pending task, if any, with
// ErrClosed. Idempotent.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	t := d.task
	d.task = nil
	control := d.control
	data := d.data
	d.data = nil
	d.mu.Unlock()

	if t != nil {
		t.reject(ErrClosed)
	}
	if data != nil {
		data.close()
	}
	if control != nil {
		control.close()
	}
	close(d.done)
}

// shutdown is the user-initiated close: it also discards any deferred
// error (such as the server dropping the connection right after QUIT) so
// later operations report ErrClosed, not a stale failure.
func (d *dispatcher) shutdown() {
	d.close()
	d.mu.Lock()
	d.deferredErr = nil
	d.mu.Unlock()
}

// isClosed reports whether close was called or a fatal error tore down the
// control socket.
func (d *dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// taskPending reports whether a task is currently in flight.
func (d *dispatcher) taskPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.task != nil
}
