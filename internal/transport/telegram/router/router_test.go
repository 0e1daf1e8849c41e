package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kit "tgfleet/internal/transport"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen map[int64][]string
	done chan struct{}
	want int
	n    int
}

func (h *recordingHandler) add(from int64, s string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen[from] = append(h.seen[from], s)
	h.n++
	if h.n == h.want {
		close(h.done)
	}
}

func (h *recordingHandler) HandleMessage(_ context.Context, m *kit.Message) error {
	if m.Text == "panic" {
		defer h.add(m.FromID, "recovered")
		panic("boom")
	}
	h.add(m.FromID, m.Text)
	return nil
}

func (h *recordingHandler) HandleCallback(_ context.Context, cb *kit.Callback) error {
	h.add(cb.FromID, "cb:"+cb.Data)
	return nil
}

type nopSender struct{}

func (nopSender) SendText(context.Context, kit.ChatTarget, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}
func (nopSender) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (nopSender) AnswerCallback(context.Context, string, string) error { return nil }

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, FromID: from, Text: text, IsPrivate: true}}
}

func TestRouterKeepsPerOperatorOrder(t *testing.T) {
	const perOp = 50
	h := &recordingHandler{seen: map[int64][]string{}, done: make(chan struct{}), want: 3*perOp + 2}
	r := New(h, nopSender{}, Options{Workers: 2, QueueSize: 4 * perOp})

	updates := make(chan kit.Update, 4*perOp)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx, updates) }()

	var want []string
	for i := range perOp {
		s := string(rune('a' + i%26))
		want = append(want, s)
		for op := int64(1); op <= 3; op++ {
			updates <- msg(op, s)
		}
	}
	updates <- msg(1, "panic")
	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "x", FromID: 2, ChatID: 2, Data: "acct:del:a"}}

	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("updates not handled")
	}
	cancel()
	require.NoError(t, <-errc)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Equal(t, append(append([]string{}, want...), "recovered"), h.seen[1])
	require.Equal(t, append(append([]string{}, want...), "cb:acct:del:a"), h.seen[2])
	require.Equal(t, want, h.seen[3])
}

func TestShardOf(t *testing.T) {
	require.Equal(t, shardOf(5, 4), shardOf(5, 4))
	require.Equal(t, 1, shardOf(-5, 4))
	require.Equal(t, 0, shardOf(8, 4))
}

func TestMenuCommands(t *testing.T) {
	got := MenuCommands([]kit.BotCommand{
		{Command: "/start", Description: "show the main menu"},
		{Command: "Join-Group", Description: ""},
		{Command: "start", Description: "duplicate"},
		{Command: "!!", Description: "dropped"},
	})
	require.Equal(t, []kit.BotCommand{
		{Command: "start", Description: "show the main menu"},
		{Command: "join_group", Description: "join_group"},
	}, got)
	require.Equal(t, "cmd_2fa", sanitizeTelegramCommand("2fa"))
}
