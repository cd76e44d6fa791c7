package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/wsclient/internal/core/protocol"
)

func TestNewClient_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.URL = ""

	_, err := NewClient(cfg, WithTransport(newFakeTransport()))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestClient_ConnectOpens(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(t, testConfig(), tr)
	rec := record(c, EventConnected, EventStateChange)

	assert.Equal(t, StateClosed, c.State())
	connectNow(t, c)

	assert.Equal(t, StateOpen, c.State())
	assert.True(t, c.IsConnected())
	assert.Equal(t, 1, rec.count(EventConnected))

	changes := rec.ofType(EventStateChange)
	require.Len(t, changes, 2)
	assert.Equal(t, StateClosed, changes[0].From)
	assert.Equal(t, StateConnecting, changes[0].To)
	assert.Equal(t, StateConnecting, changes[1].From)
	assert.Equal(t, StateOpen, changes[1].To)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Connects)
	assert.Equal(t, 0, stats.Attempts)
	assert.False(t, stats.LastConnectedAt.IsZero())
}

func TestClient_ConnectIsIdempotentWhileOpen(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(t, testConfig(), tr)
	rec := record(c, EventConnected)

	connectNow(t, c)
	c.Connect()
	c.Connect()
	connectNow(t, c)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, tr.dialCount())
	assert.Equal(t, 1, rec.count(EventConnected))
}

func TestClient_ConnectIsIdempotentWhileConnecting(t *testing.T) {
	tr := newFakeTransport()
	gate := make(chan struct{})
	tr.setGate(gate)
	c := newTestClient(t, testConfig(), tr)
	rec := record(c, EventConnected)

	c.Connect()
	require.Eventually(t, func() bool { return tr.dialCount() == 1 }, time.Second, 5*time.Millisecond)
	c.Connect()
	assert.Equal(t, StateConnecting, c.State())

	close(gate)
	require.Eventually(t, func() bool { return c.State() == StateOpen }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, tr.dialCount())
	assert.Equal(t, 1, rec.count(EventConnected))
}

func TestClient_ConnectTimeout(t *testing.T) {
	tr := newFakeTransport()
	tr.setGate(make(chan struct{}))
	cfg := testConfig()
	cfg.ConnectTimeout = 30 * time.Millisecond
	cfg.AutoReconnect = false
	c := newTestClient(t, cfg, tr)
	rec := record(c, EventError)

	err := c.ConnectWait(context.Background())
	require.Error(t, err)
	assert.Equal(t, protocol.ErrorCodeConnectionTimeout, protocol.CodeOf(err))
	assert.Equal(t, StateClosed, c.State())

	errs := rec.ofType(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.ErrorCodeConnectionTimeout, protocol.CodeOf(errs[0].Err))
}

func TestClient_OfflineSendIsQueuedAndFlushed(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(t, testConfig(), tr)

	delivery, err := c.Send("ping", map[string]int{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, DeliveryQueued, delivery)
	assert.Equal(t, 1, c.Stats().QueueLength)

	connectNow(t, c)

	msgs := tr.last().messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ping", msgs[0].Type)
	assert.JSONEq(t, `{"x":1}`, string(msgs[0].Data))
	assert.Equal(t, 0, c.Stats().QueueLength)
	assert.Equal(t, uint64(1), c.Stats().MessagesFlushed)
}

func TestClient_QueueKeepsNewestInOrder(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueSize = 3
	tr := newFakeTransport()
	c := newTestClient(t, cfg, tr)

	for i := 0; i < 5; i++ {
		delivery, err := c.Send(fmt.Sprintf("m%d", i), i)
		require.NoError(t, err)
		assert.Equal(t, DeliveryQueued, delivery)
	}

	queued := c.QueuedMessages()
	require.Len(t, queued, 3)
	assert.Equal(t, "m2", queued[0].Message.Type)
	assert.Equal(t, "m4", queued[2].Message.Type)
	assert.Equal(t, uint64(2), c.Stats().MessagesDropped)

	connectNow(t, c)

	msgs := tr.last().messages(t)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("m%d", i+2), m.Type)
		assert.JSONEq(t, fmt.Sprintf("%d", i+2), string(m.Data))
	}
}

func TestClient_SendWhileOpenWritesImmediately(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(t, testConfig(), tr)
	connectNow(t, c)

	delivery, err := c.Send("chat", map[string]string{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, DeliverySent, delivery)

	msgs := tr.last().messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "chat", msgs[0].Type)
	assert.NotZero(t, msgs[0].Timestamp)
}

func TestClient_SendWithoutQueue(t *testing.T) {
	cfg := testConfig()
	cfg.QueueEnabled = false
	c := newTestClient(t, cfg, newFakeTransport())

	delivery, err := c.Send("chat", "hi")
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, DeliveryFailed, delivery)
}

func TestClient_SendEmptyType(t *testing.T) {
	c := newTestClient(t, testConfig(), newFakeTransport())
	rec := record(c, EventError)

	_, err := c.Send("", nil)
	require.ErrorIs(t, err, protocol.ErrEmptyType)
	require.Len(t, rec.ofType(EventError), 1)
	assert.Equal(t, protocol.ErrorCodeSend, protocol.CodeOf(rec.ofType(EventError)[0].Err))
}

func TestClient_DisconnectWhileOpen(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(t, testConfig(), tr)
	rec := record(c, EventDisconnected, EventReconnecting, EventStateChange)
	connectNow(t, c)
	conn := tr.last()

	require.NoError(t, c.Disconnect(1000, "bye"))

	assert.Equal(t, StateClosed, c.State())
	code, reason, local := conn.closeInfo()
	assert.True(t, local)
	assert.Equal(t, 1000, code)
	assert.Equal(t, "bye", reason)

	disconnected := rec.ofType(EventDisconnected)
	require.Len(t, disconnected, 1)
	assert.Equal(t, 1000, disconnected[0].Code)
	assert.Equal(t, "bye", disconnected[0].Reason)

	changes := rec.ofType(EventStateChange)
	require.GreaterOrEqual(t, len(changes), 2)
	assert.Equal(t, StateClosing, changes[len(changes)-2].To)
	assert.Equal(t, StateClosed, changes[len(changes)-1].To)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, tr.dialCount())
	assert.Zero(t, rec.count(EventReconnecting))
	assert.Equal(t, 0, c.Stats().QueueLength)
}

func TestClient_DisconnectClearsQueueAndCancelsReconnect(t *testing.T) {
	tr := newFakeTransport()
	tr.setFail(errors.New("connection refused"))
	cfg := testConfig()
	cfg.ReconnectDelay = 100 * time.Millisecond
	cfg.MaxReconnectDelay = time.Second
	c := newTestClient(t, cfg, tr)
	rec := record(c, EventReconnecting)

	c.Connect()
	require.Eventually(t, func() bool { return rec.count(EventReconnecting) == 1 }, time.Second, 5*time.Millisecond)

	_, err := c.Send("chat", "queued")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Stats().QueueLength)

	require.NoError(t, c.Disconnect(0, ""))
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 0, c.Stats().QueueLength)

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, 1, tr.dialCount())
}

func TestClient_DisconnectWhileConnecting(t *testing.T) {
	tr := newFakeTransport()
	gate := make(chan struct{})
	tr.setGate(gate)
	c := newTestClient(t, testConfig(), tr)
	rec := record(c, EventConnected)

	c.Connect()
	require.Eventually(t, func() bool { return tr.dialCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Disconnect(0, ""))

	close(gate)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateClosed, c.State())
	assert.Zero(t, rec.count(EventConnected))
}

func TestClient_ReconnectBackoffSchedule(t *testing.T) {
	tr := newFakeTransport()
	tr.setFail(errors.New("connection refused"))

	cfg := testConfig()
	cfg.MaxReconnectAttempts = 3
	cfg.ReconnectDelay = 100 * time.Millisecond
	cfg.MaxReconnectDelay = 10 * time.Second
	cfg.BackoffFactor = 2
	c := newTestClient(t, cfg, tr)
	rec := record(c, EventReconnecting, EventReconnectFailed)

	c.Connect()
	require.Eventually(t, func() bool { return rec.count(EventReconnectFailed) == 1 }, 3*time.Second, 10*time.Millisecond)

	scheduled := rec.ofType(EventReconnecting)
	require.Len(t, scheduled, 3)
	assert.Equal(t, 100*time.Millisecond, scheduled[0].Delay)
	assert.Equal(t, 200*time.Millisecond, scheduled[1].Delay)
	assert.Equal(t, 400*time.Millisecond, scheduled[2].Delay)
	for i, e := range scheduled {
		assert.Equal(t, i+1, e.Attempt)
	}

	failed := rec.ofType(EventReconnectFailed)[0]
	assert.Equal(t, 3, failed.Attempt)
	assert.Equal(t, protocol.ErrorCodeReconnectFailed, protocol.CodeOf(failed.Err))
	assert.ErrorIs(t, failed.Err, ErrReconnectFailed)

	// one initial dial plus three retries, then nothing
	assert.Equal(t, 4, tr.dialCount())
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 4, tr.dialCount())
	assert.Equal(t, StateClosed, c.State())
}

func TestClient_ManualReconnectAfterFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.setFail(errors.New("connection refused"))
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 1
	c := newTestClient(t, cfg, tr)
	rec := record(c, EventReconnectFailed, EventConnected)

	c.Connect()
	require.Eventually(t, func() bool { return rec.count(EventReconnectFailed) == 1 }, time.Second, 5*time.Millisecond)

	tr.setFail(nil)
	c.Reconnect()
	require.Eventually(t, func() bool { return c.State() == StateOpen }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.count(EventConnected))
	assert.Equal(t, 0, c.Stats().Attempts)
}

func TestClient_ReconnectsAfterAbnormalClose(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(t, testConfig(), tr)
	rec := record(c, EventDisconnected, EventError, EventConnected)
	connectNow(t, c)
	first := tr.last()

	first.drop(&protocol.CloseError{Code: protocol.CloseAbnormalClosure})

	require.Eventually(t, func() bool {
		return tr.dialCount() == 2 && c.State() == StateOpen
	}, time.Second, 5*time.Millisecond)
	assert.NotSame(t, first, tr.last())

	disconnected := rec.ofType(EventDisconnected)
	require.Len(t, disconnected, 1)
	assert.Equal(t, protocol.CloseAbnormalClosure, disconnected[0].Code)
	require.Len(t, rec.ofType(EventError), 1)
	assert.Equal(t, protocol.ErrorCodeTransport, protocol.CodeOf(rec.ofType(EventError)[0].Err))

	require.Eventually(t, func() bool { return rec.count(EventConnected) == 2 }, time.Second, 5*time.Millisecond)
	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Reconnects)
	assert.Equal(t, 0, stats.Attempts)
}

func TestClient_CleanServerCloseDoesNotReconnect(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(t, testConfig(), tr)
	rec := record(c, EventDisconnected, EventError, EventReconnecting)
	connectNow(t, c)

	tr.last().drop(&protocol.CloseError{Code: protocol.CloseNormalClosure, Reason: "done"})

	require.Eventually(t, func() bool { return c.State() == StateClosed }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return rec.count(EventDisconnected) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "done", rec.ofType(EventDisconnected)[0].Reason)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, tr.dialCount())
	assert.Zero(t, rec.count(EventError))
	assert.Zero(t, rec.count(EventReconnecting))
}

func TestClient_QueuedDuringOutageFlushedOnReconnect(t *testing.T) {
	tr := newFakeTransport()
	cfg := testConfig()
	cfg.ReconnectDelay = 50 * time.Millisecond
	c := newTestClient(t, cfg, tr)
	connectNow(t, c)

	gate := make(chan struct{})
	tr.setGate(gate)
	tr.last().drop(&protocol.CloseError{Code: protocol.CloseAbnormalClosure})
	require.Eventually(t, func() bool { return c.State() != StateOpen }, time.Second, 5*time.Millisecond)

	for _, text := range []string{"a", "b", "c"} {
		delivery, err := c.Send("chat", text)
		require.NoError(t, err)
		assert.Equal(t, DeliveryQueued, delivery)
	}

	close(gate)
	require.Eventually(t, func() bool { return c.State() == StateOpen && tr.last().writtenCount() == 3 }, 2*time.Second, 5*time.Millisecond)

	msgs := tr.last().messages(t)
	for i, want := range []string{`"a"`, `"b"`, `"c"`} {
		assert.JSONEq(t, want, string(msgs[i].Data))
	}
}

func TestClient_InboundDispatch(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(t, testConfig(), tr)

	var order []string
	done := make(chan struct{})
	c.On("chat", func(e Event) { order = append(order, "first") })
	c.On("chat", func(e Event) { order = append(order, "second") })
	c.On(EventMessage, func(e Event) {
		if e.Message.Type == "chat" {
			order = append(order, "message")
		}
	})
	c.On("chat", func(e Event) {
		order = append(order, "third")
		var body struct {
			Text string `json:"text"`
		}
		assert.NoError(t, e.Message.Decode(&body))
		assert.Equal(t, "hi", body.Text)
		close(done)
	})

	connectNow(t, c)
	tr.last().push(`{"type":"chat","data":{"text":"hi"},"timestamp":1}`)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("chat handler not called")
	}
	assert.Equal(t, []string{"message", "first", "second", "third"}, order)
	assert.Equal(t, uint64(1), c.Stats().MessagesReceived)
}

func TestClient_MalformedFrame(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(t, testConfig(), tr)
	rec := record(c, EventError, "chat")
	connectNow(t, c)

	tr.last().push(`{not json`)
	tr.last().push(`{"data":1}`)
	tr.last().push(`{"type":"chat","data":"ok"}`)

	require.Eventually(t, func() bool { return rec.count("chat") == 1 }, time.Second, 5*time.Millisecond)
	errs := rec.ofType(EventError)
	require.Len(t, errs, 2)
	assert.Equal(t, protocol.ErrorCodeParse, protocol.CodeOf(errs[0].Err))
	assert.Equal(t, []byte(`{not json`), errs[0].Raw)
	assert.ErrorIs(t, errs[1].Err, protocol.ErrInvalidFrame)

	assert.Equal(t, StateOpen, c.State())
	assert.Equal(t, uint64(2), c.Stats().ParseErrors)
}

func TestClient_HandlerPanicIsContained(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(t, testConfig(), tr)
	rec := record(c, "chat")
	c.On("chat", func(Event) { panic("boom") })
	connectNow(t, c)

	tr.last().push(`{"type":"chat"}`)
	tr.last().push(`{"type":"chat"}`)

	require.Eventually(t, func() bool { return rec.count("chat") == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return c.Stats().HandlerPanics == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateOpen, c.State())
}

func TestClient_OnceAndUnsubscribe(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(t, testConfig(), tr)

	onceCalls, onCalls := 0, 0
	c.Once("chat", func(Event) { onceCalls++ })
	off := c.On("chat", func(Event) { onCalls++ })
	rec := record(c, "chat")
	connectNow(t, c)

	tr.last().push(`{"type":"chat"}`)
	require.Eventually(t, func() bool { return rec.count("chat") == 1 }, time.Second, 5*time.Millisecond)
	off()
	tr.last().push(`{"type":"chat"}`)
	require.Eventually(t, func() bool { return rec.count("chat") == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, onceCalls)
	assert.Equal(t, 1, onCalls)
}

func TestClient_Request(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(t, testConfig(), tr)
	connectNow(t, c)
	conn := tr.last()

	type result struct {
		msg *protocol.Message
		err error
	}
	out := make(chan result, 1)
	go func() {
		m, err := c.Request(context.Background(), "sum", []int{1, 2})
		out <- result{m, err}
	}()

	require.Eventually(t, func() bool { return conn.writtenCount() == 1 }, time.Second, 5*time.Millisecond)
	req := conn.messages(t)[0]
	require.NotEmpty(t, req.ID)

	conn.push(`{"type":"unrelated","id":"other"}`)
	conn.push(fmt.Sprintf(`{"type":"sum_result","data":3,"id":%q}`, req.ID))

	select {
	case r := <-out:
		require.NoError(t, r.err)
		assert.Equal(t, "sum_result", r.msg.Type)
		assert.Equal(t, req.ID, r.msg.ID)
		assert.JSONEq(t, "3", string(r.msg.Data))
	case <-time.After(time.Second):
		t.Fatal("request not resolved")
	}
	assert.Equal(t, 0, c.Stats().PendingRequests)
}

func TestClient_RequestRejectedOnDisconnect(t *testing.T) {
	c := newTestClient(t, testConfig(), newFakeTransport())

	out := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), "sum", nil)
		out <- err
	}()

	require.Eventually(t, func() bool { return c.Stats().PendingRequests == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Disconnect(0, ""))

	select {
	case err := <-out:
		require.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(time.Second):
		t.Fatal("request not rejected")
	}
}

func TestClient_RequestContextCancelled(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(t, testConfig(), tr)
	connectNow(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Request(ctx, "sum", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.Stats().PendingRequests)
}

func TestClient_HeartbeatSendsPing(t *testing.T) {
	tr := newFakeTransport()
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	c := newTestClient(t, cfg, tr)
	connectNow(t, c)

	require.Eventually(t, func() bool { return tr.last().writtenCount() >= 2 }, time.Second, 5*time.Millisecond)
	for _, m := range tr.last().messages(t) {
		assert.Equal(t, "ping", m.Type)
	}
	assert.GreaterOrEqual(t, c.Stats().HeartbeatsSent, uint64(2))
}

func TestClient_HeartbeatTimeout(t *testing.T) {
	tr := newFakeTransport()
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.HeartbeatTimeout = 40 * time.Millisecond
	cfg.AutoReconnect = false
	c := newTestClient(t, cfg, tr)
	rec := record(c, EventError, EventDisconnected)
	connectNow(t, c)

	require.Eventually(t, func() bool { return c.State() == StateClosed }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return rec.count(EventDisconnected) == 1 }, time.Second, 5*time.Millisecond)

	errs := rec.ofType(EventError)
	require.NotEmpty(t, errs)
	assert.Equal(t, protocol.ErrorCodeHeartbeatTimeout, protocol.CodeOf(errs[0].Err))
	_, _, local := tr.last().closeInfo()
	assert.True(t, local)
}

func TestClient_InboundTrafficKeepsHeartbeatAlive(t *testing.T) {
	tr := newFakeTransport()
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.HeartbeatTimeout = 60 * time.Millisecond
	cfg.AutoReconnect = false
	c := newTestClient(t, cfg, tr)
	connectNow(t, c)

	for i := 0; i < 10; i++ {
		tr.last().push(`{"type":"pong"}`)
		time.Sleep(15 * time.Millisecond)
	}
	assert.Equal(t, StateOpen, c.State())
	require.Eventually(t, func() bool { return c.Stats().HeartbeatAcks == 10 }, time.Second, 5*time.Millisecond)
}

func TestClient_SendRejectsOversizedMessage(t *testing.T) {
	tr := newFakeTransport()
	cfg := testConfig()
	cfg.MaxMessageSize = 64
	c := newTestClient(t, cfg, tr)
	rec := record(c, EventError)

	d, err := c.Send("big", strings.Repeat("x", 100))
	assert.Equal(t, DeliveryFailed, d)
	require.ErrorIs(t, err, protocol.ErrMessageTooLarge)
	assert.Equal(t, protocol.ErrorCodeSend, protocol.CodeOf(err))

	assert.Equal(t, 0, c.Stats().QueueLength)
	assert.Equal(t, 1, rec.count(EventError))
}

func TestClient_FlushDropsMessageTheConnectionRefuses(t *testing.T) {
	tr := newFakeTransport()
	tr.setConfigure(func(_ int, conn *fakeConn) { conn.maxFrame = 100 })
	c := newTestClient(t, testConfig(), tr)
	rec := record(c, EventError)

	for _, typ := range []string{"big", "small1"} {
		data := any(1)
		if typ == "big" {
			data = strings.Repeat("x", 500)
		}
		d, err := c.Send(typ, data)
		require.NoError(t, err)
		require.Equal(t, DeliveryQueued, d)
	}

	connectNow(t, c)

	d, err := c.Send("small2", 2)
	require.NoError(t, err)
	assert.Equal(t, DeliverySent, d)

	assert.Equal(t, []string{"small1", "small2"}, tr.last().types(t))
	stats := c.Stats()
	assert.Equal(t, StateOpen, stats.State)
	assert.Equal(t, 0, stats.QueueLength)
	assert.Equal(t, uint64(1), stats.MessagesDropped)
	assert.Equal(t, 1, tr.dialCount())

	errs := rec.ofType(EventError)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, protocol.ErrMessageTooLarge)
}

func TestClient_FlushResumesAfterConnectionDropsMidFlush(t *testing.T) {
	tr := newFakeTransport()
	tr.setConfigure(func(n int, conn *fakeConn) {
		if n == 0 {
			conn.failAfter = 2
		}
	})
	c := newTestClient(t, testConfig(), tr)
	rec := record(c, EventConnected, EventDisconnected)

	for i := 1; i <= 5; i++ {
		_, err := c.Send("m", i)
		require.NoError(t, err)
	}

	c.Connect()
	require.Eventually(t, func() bool { return rec.count(EventConnected) == 1 }, time.Second, 5*time.Millisecond)

	require.Equal(t, 2, tr.connCount())
	data := func(conn *fakeConn) []string {
		var out []string
		for _, m := range conn.messages(t) {
			out = append(out, string(m.Data))
		}
		return out
	}
	assert.Equal(t, []string{"1", "2"}, data(tr.at(0)))
	assert.Equal(t, []string{"3", "4", "5"}, data(tr.at(1)))

	assert.Equal(t, 1, rec.count(EventDisconnected))
	stats := c.Stats()
	assert.Equal(t, 0, stats.QueueLength)
	assert.Equal(t, uint64(5), stats.MessagesFlushed)
	assert.Zero(t, stats.MessagesDropped)
}

func TestClient_InboundLifecycleTypeOnlyReachesMessageListeners(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(t, testConfig(), tr)
	rec := record(c, EventError, EventMessage)
	connectNow(t, c)

	tr.last().push(`{"type":"error","data":{"code":"rate-limited"}}`)
	tr.last().push(`{"type":"chat"}`)

	require.Eventually(t, func() bool { return rec.count(EventMessage) == 2 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, rec.count(EventError))
	assert.Equal(t, "error", rec.ofType(EventMessage)[0].Message.Type)
}

func TestClient_DisconnectTwiceEmitsOnce(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(t, testConfig(), tr)
	rec := record(c, EventDisconnected, EventStateChange)
	connectNow(t, c)

	require.NoError(t, c.Disconnect(0, ""))
	require.NoError(t, c.Disconnect(0, ""))

	assert.Equal(t, 1, rec.count(EventDisconnected))
	closedCount := 0
	for _, e := range rec.ofType(EventStateChange) {
		if e.To == StateClosed {
			closedCount++
		}
	}
	assert.Equal(t, 1, closedCount)
}

func TestClient_ConnectWhileDisconnectIsClosing(t *testing.T) {
	tr := newFakeTransport()
	gate := make(chan struct{})
	tr.setConfigure(func(n int, conn *fakeConn) {
		if n == 0 {
			conn.closeGate = gate
		}
	})
	c := newTestClient(t, testConfig(), tr)
	rec := record(c, EventStateChange)
	connectNow(t, c)

	done := make(chan error, 1)
	go func() { done <- c.Disconnect(1000, "bye") }()
	require.Eventually(t, func() bool { return c.State() == StateClosing }, time.Second, time.Millisecond)

	c.Connect()
	close(gate)
	require.NoError(t, <-done)

	require.Eventually(t, func() bool { return c.State() == StateOpen }, time.Second, 5*time.Millisecond)
	for _, e := range rec.ofType(EventStateChange) {
		assert.False(t, e.From == StateClosing && e.To == StateClosed, "stale closing->closed transition")
	}
}

func TestClient_ConnectWaitCancelledReleasesWaiter(t *testing.T) {
	tr := newFakeTransport()
	gate := make(chan struct{})
	tr.setGate(gate)
	defer close(gate)
	c := newTestClient(t, testConfig(), tr)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.ConnectWait(ctx), context.DeadlineExceeded)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.waiters)
}
