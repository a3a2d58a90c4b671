package ftp

import (
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"
)

// pipeDispatcher wires a dispatcher to one end of a net.Pipe and hands the
// test the other end to play server.
func pipeDispatcher(t *testing.T, timeout time.Duration) (*dispatcher, net.Conn) {
	t.Helper()
	d := newDispatcher(timeout, slog.New(slog.DiscardHandler))
	client, server := net.Pipe()
	d.setControlSocket(client)
	t.Cleanup(func() {
		d.close()
		server.Close()
	})
	return d, server
}

// resolveFinal is the minimal handler: settle on the first final reply or
// error, keep waiting on 1xx.
func resolveFinal(sig signal, t *task) {
	switch {
	case sig.err != nil:
		t.reject(sig.err)
	case sig.resp != nil && sig.resp.Code >= 200:
		t.resolve(sig.resp)
	}
}

func serverSend(t *testing.T, conn net.Conn, s string) {
	t.Helper()
	if _, err := conn.Write([]byte(s)); err != nil {
		t.Fatalf("server write failed: %v", err)
	}
}

func TestDispatcher_ResolvesOnFinalReply(t *testing.T) {
	t.Parallel()
	d, server := pipeDispatcher(t, 0)

	task, err := d.begin("", resolveFinal)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	serverSend(t, server, "220 Service ready\r\n")

	resp, err := d.await(task)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if resp.Code != 220 || resp.String() != "220 Service ready" {
		t.Errorf("got %+v, want code 220 %q", resp, "220 Service ready")
	}
}

func TestDispatcher_InformationalKeepsWaiting(t *testing.T) {
	t.Parallel()
	d, server := pipeDispatcher(t, 0)

	task, err := d.begin("", resolveFinal)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	serverSend(t, server, "125 Data connection already open\r\n")
	serverSend(t, server, "150 About to open data connection\r\n")
	serverSend(t, server, "226 Done\r\n")

	resp, err := d.await(task)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if resp.Code != 226 {
		t.Errorf("resolved with code %d, want 226 (1xx must not settle)", resp.Code)
	}
}

func TestDispatcher_Busy(t *testing.T) {
	t.Parallel()
	d, _ := pipeDispatcher(t, 0)

	pending, err := d.begin("", func(sig signal, t *task) {})
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	if _, err := d.begin("", resolveFinal); !errors.Is(err, ErrBusy) {
		t.Fatalf("second begin error = %v, want ErrBusy", err)
	}

	d.close()
	if _, err := d.await(pending); !errors.Is(err, ErrClosed) {
		t.Errorf("pending task error = %v, want ErrClosed", err)
	}
}

// A handler is installed exactly while a task is pending.
func TestDispatcher_TaskPendingMatchesHandler(t *testing.T) {
	t.Parallel()
	d, server := pipeDispatcher(t, 0)

	if d.taskPending() {
		t.Fatal("no task dispatched yet, taskPending() = true")
	}

	task, err := d.begin("", resolveFinal)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if !d.taskPending() {
		t.Fatal("task dispatched, taskPending() = false")
	}

	serverSend(t, server, "200 Fine\r\n")
	if _, err := d.await(task); err != nil {
		t.Fatalf("await failed: %v", err)
	}

	// The slot is cleared on the dispatcher goroutine right after the
	// handler settles; give it a moment.
	deadline := time.Now().Add(time.Second)
	for d.taskPending() {
		if time.Now().After(deadline) {
			t.Fatal("task settled but still pending")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDispatcher_CloseRejectsPendingAndSticks(t *testing.T) {
	t.Parallel()
	d, _ := pipeDispatcher(t, 0)

	task, err := d.begin("", func(sig signal, t *task) {})
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	d.close()
	d.close() // idempotent

	if _, err := d.await(task); !errors.Is(err, ErrClosed) {
		t.Errorf("pending task error = %v, want ErrClosed", err)
	}
	if !d.isClosed() {
		t.Error("isClosed() = false after close")
	}
	if _, err := d.dispatch("NOOP", resolveFinal); !errors.Is(err, ErrClosed) {
		t.Errorf("dispatch after close error = %v, want ErrClosed", err)
	}
}

func TestDispatcher_BadReplyPoisons(t *testing.T) {
	t.Parallel()
	d, server := pipeDispatcher(t, 0)

	task, err := d.begin("", resolveFinal)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	serverSend(t, server, "surprise!\r\n")

	_, err = d.await(task)
	var bad *BadReplyError
	if !errors.As(err, &bad) {
		t.Fatalf("task error = %v, want *BadReplyError", err)
	}
	if !d.isClosed() {
		t.Error("dispatcher should close after a protocol violation")
	}
}

func TestDispatcher_TimeoutRejectsAndCloses(t *testing.T) {
	t.Parallel()
	d, _ := pipeDispatcher(t, 50*time.Millisecond)

	task, err := d.begin("", resolveFinal)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	if _, err := d.await(task); !errors.Is(err, ErrTimeout) {
		t.Fatalf("task error = %v, want ErrTimeout", err)
	}
	if !d.isClosed() {
		t.Error("dispatcher should close after a timeout")
	}
	if _, err := d.dispatch("NOOP", resolveFinal); !errors.Is(err, ErrClosed) {
		t.Errorf("dispatch after timeout error = %v, want ErrClosed", err)
	}
}

// A timeout with no task pending surfaces on the next dispatch, and as
// ErrClosed from then on.
func TestDispatcher_IdleTimeoutDeferred(t *testing.T) {
	t.Parallel()
	d, _ := pipeDispatcher(t, 30*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for !d.isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("idle dispatcher never timed out")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := d.dispatch("NOOP", resolveFinal); !errors.Is(err, ErrTimeout) {
		t.Fatalf("first dispatch error = %v, want ErrTimeout", err)
	}
	if _, err := d.dispatch("NOOP", resolveFinal); !errors.Is(err, ErrClosed) {
		t.Fatalf("second dispatch error = %v, want ErrClosed", err)
	}
}

// A data socket that errors while no task is pending poisons the context;
// the failure surfaces on the next dispatch, and as ErrClosed after that.
func TestDispatcher_DataSocketErrorDeferred(t *testing.T) {
	t.Parallel()
	d, _ := pipeDispatcher(t, 0)

	dataConn, dataPeer := net.Pipe()
	defer dataPeer.Close()
	d.setDataSocket(dataConn)

	// The conn dies underneath the pump, before any transfer command
	dataConn.Close()

	deadline := time.Now().Add(time.Second)
	for !d.isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("data socket error never poisoned the dispatcher")
		}
		time.Sleep(time.Millisecond)
	}

	_, err := d.dispatch("LIST", resolveFinal)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("first dispatch error = %v, want *TransportError", err)
	}
	if _, err := d.dispatch("LIST", resolveFinal); !errors.Is(err, ErrClosed) {
		t.Fatalf("second dispatch error = %v, want ErrClosed", err)
	}
}

func TestDispatcher_SendRawWithinTask(t *testing.T) {
	t.Parallel()
	d, server := pipeDispatcher(t, 0)

	// Server side: acknowledge the follow-up write
	go func() {
		buf := make([]byte, 64)
		n, err := server.Read(buf)
		if err != nil || string(buf[:n]) != "RETR f.bin\r\n" {
			return
		}
		server.Write([]byte("226 Transfer complete\r\n"))
	}()

	task, err := d.begin("", func(sig signal, t *task) {
		switch {
		case sig.err != nil:
			t.reject(sig.err)
		case sig.resp != nil && sig.resp.Code == 350:
			if err := d.sendRaw("RETR f.bin"); err != nil {
				t.reject(err)
			}
		case sig.resp != nil && sig.resp.Code == 226:
			t.resolve(sig.resp)
		}
	})
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	serverSend(t, server, "350 Restarting at 1024\r\n")

	resp, err := d.await(task)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if resp.Code != 226 {
		t.Errorf("resolved with code %d, want 226", resp.Code)
	}
}

func TestDispatcher_TransportErrorOnPeerClose(t *testing.T) {
	t.Parallel()
	d, server := pipeDispatcher(t, 0)

	task, err := d.begin("", resolveFinal)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	server.Close()

	_, err = d.await(task)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("task error = %v, want *TransportError", err)
	}
	if !d.isClosed() {
		t.Error("dispatcher should close after losing the control connection")
	}
}
