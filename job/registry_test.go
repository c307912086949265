package job_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/job"
)

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

type emailResult struct {
	MessageID string `json:"message_id"`
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := job.NewRegistry(nil)

	var got emailPayload
	def := job.NewDefinition("email.send", func(_ context.Context, p emailPayload) (emailResult, error) {
		got = p
		return emailResult{MessageID: "m-1"}, nil
	})
	job.RegisterDefinition(r, def)

	h, err := r.Resolve("email.send")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload, _ := json.Marshal(emailPayload{To: "alice@example.com", Subject: "Hello"})
	out, err := h(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.To != "alice@example.com" || got.Subject != "Hello" {
		t.Errorf("payload = %+v", got)
	}
	if string(out) != `{"message_id":"m-1"}` {
		t.Errorf("result = %s", out)
	}
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := job.NewRegistry(nil)
	_, err := r.Resolve("nonexistent")
	if !errors.Is(err, backlog.ErrHandlerNotFound) {
		t.Fatalf("expected ErrHandlerNotFound, got %v", err)
	}
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	var buf bytes.Buffer
	r := job.NewRegistry(slog.New(slog.NewTextHandler(&buf, nil)))

	r.Register("overwrite", func(context.Context, []byte) ([]byte, error) {
		return []byte("old"), nil
	})
	if strings.Contains(buf.String(), "replaced") {
		t.Fatal("first registration should not be logged as a replacement")
	}
	r.Register("overwrite", func(context.Context, []byte) ([]byte, error) {
		return []byte("new"), nil
	})

	h, _ := r.Resolve("overwrite")
	out, _ := h(context.Background(), nil)
	if string(out) != "new" {
		t.Fatalf("expected new handler, got %q", out)
	}
	if !strings.Contains(buf.String(), "job handler replaced") {
		t.Errorf("expected replacement log, got %q", buf.String())
	}
}

func TestRegistry_Types(t *testing.T) {
	r := job.NewRegistry(nil)
	noop := func(context.Context, []byte) ([]byte, error) { return nil, nil }
	r.Register("b", noop)
	r.Register("a", noop)
	r.Register("c", noop)

	types := r.Types()
	if len(types) != 3 || types[0] != "a" || types[1] != "b" || types[2] != "c" {
		t.Fatalf("types = %v", types)
	}
}

func TestRegistry_InvalidJSON(t *testing.T) {
	r := job.NewRegistry(nil)
	job.RegisterDefinition(r, job.NewDefinition("typed", func(_ context.Context, _ emailPayload) (struct{}, error) {
		t.Fatal("handler should not be called with invalid JSON")
		return struct{}{}, nil
	}))

	h, _ := r.Resolve("typed")
	if _, err := h(context.Background(), []byte(`{invalid json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestRegistry_EmptyPayload(t *testing.T) {
	r := job.NewRegistry(nil)
	called := false
	job.RegisterDefinition(r, job.NewDefinition("no-payload", func(_ context.Context, _ struct{}) (int, error) {
		called = true
		return 7, nil
	}))

	h, _ := r.Resolve("no-payload")
	out, err := h(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called || string(out) != "7" {
		t.Fatalf("called=%v out=%s", called, out)
	}
}

func TestRegistry_HandlerError(t *testing.T) {
	r := job.NewRegistry(nil)
	want := errors.New("handler failed")
	job.RegisterDefinition(r, job.NewDefinition("failing", func(_ context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, want
	}))

	h, _ := r.Resolve("failing")
	if _, err := h(context.Background(), nil); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}
