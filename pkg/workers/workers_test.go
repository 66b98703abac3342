package workers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

type funcWorker struct {
	name  string
	start func(ctx context.Context) error
}

func (f funcWorker) Name() string                    { return f.name }
func (f funcWorker) Start(ctx context.Context) error { return f.start(ctx) }

func TestGroupStopsOnFailure(t *testing.T) {
	blocking := funcWorker{name: "blocking", start: func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}}
	failing := funcWorker{name: "failing", start: func(context.Context) error {
		return errors.New("boom")
	}}

	done := make(chan error, 1)
	go func() { done <- Group{blocking, failing}.Start(context.Background()) }()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "failing: boom") {
			t.Errorf("expected the worker failure, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("group did not stop after a worker failed")
	}
}

func TestGroupCleanShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := funcWorker{name: "w", start: func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}}

	done := make(chan error, 1)
	go func() { done <- Group{w, w}.Start(ctx) }()
	cancel()

	if err := <-done; err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

type fakeClient struct {
	mu      sync.Mutex
	updates chan tgbotapi.Update
	sent    []domain.Response
	typing  []int64
}

func (f *fakeClient) GetUpdates() tgbotapi.UpdatesChannel { return f.updates }

func (f *fakeClient) SendResponse(_ context.Context, r *domain.Response) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, *r)
	return []int{500, 501}
}

func (f *fakeClient) StartTyping(_ context.Context, chatID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, chatID)
}

type allowList map[int64]bool

func (a allowList) IsAuthorized(id int64) bool { return a[id] }

type handlerFunc func(ctx context.Context, update *tgbotapi.Update)

func (h handlerFunc) HandleUpdate(ctx context.Context, update *tgbotapi.Update) { h(ctx, update) }

type linkRecorder struct {
	mu    sync.Mutex
	links map[string][]int
}

func (l *linkRecorder) LinkDelivered(_ context.Context, _ int64, turnID string, ids []int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.links[turnID] = ids
}

func TestTelegramUpdateListener(t *testing.T) {
	client := &fakeClient{updates: make(chan tgbotapi.Update)}
	responses := make(chan domain.Response)
	linker := &linkRecorder{links: map[string][]int{}}
	handled := make(chan int64, 2)

	handler := handlerFunc(func(ctx context.Context, update *tgbotapi.Update) {
		handled <- update.Message.From.ID
		responses <- domain.Response{ChatID: update.Message.Chat.ID, Text: "answer", UserID: update.Message.From.ID, TurnID: "turn-1"}
	})

	listener, err := NewTelegramUpdateListener(client, allowList{42: true}, handler, linker, responses)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listener.Start(ctx) }()

	update := func(userID int64) tgbotapi.Update {
		return tgbotapi.Update{UpdateID: int(userID), Message: &tgbotapi.Message{
			Text: "hi",
			Chat: &tgbotapi.Chat{ID: userID},
			From: &tgbotapi.User{ID: userID},
		}}
	}
	client.updates <- update(7)
	client.updates <- update(42)

	if got := <-handled; got != 42 {
		t.Errorf("expected only the authorized user to be handled, got %d", got)
	}

	deadline := time.After(5 * time.Second)
	for {
		linker.mu.Lock()
		ids := linker.links["turn-1"]
		linker.mu.Unlock()
		if len(ids) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("response was not linked")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("unexpected error %v", err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	var denied bool
	for _, r := range client.sent {
		if r.ChatID == 7 && strings.Contains(r.Text, "7") && strings.Contains(r.Text, "Access denied") {
			denied = true
		}
	}
	if !denied {
		t.Errorf("expected an access denied reply for user 7, got %+v", client.sent)
	}
	if len(client.typing) != 1 || client.typing[0] != 42 {
		t.Errorf("expected typing only for the authorized user, got %v", client.typing)
	}
	if len(handled) != 0 {
		t.Errorf("unexpected extra handled update")
	}
}
