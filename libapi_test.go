package glue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

// withFreshDefaultRegistry swaps the default registry for the duration of a test.
func withFreshDefaultRegistry(t *testing.T) {
	t.Helper()
	previous := defaultRegistry
	defaultRegistry = NewRegistry()
	t.Cleanup(func() { defaultRegistry = previous })
}

func TestPackageLevelRegistration(t *testing.T) {
	withFreshDefaultRegistry(t)

	if err := RegisterTrigger("webhook", func(ctx context.Context, data json.RawMessage) error { return nil }, nil); err != nil {
		t.Fatalf("register trigger: %v", err)
	}
	fetcher, err := RegisterCredential("github", map[string]any{"scopes": []string{"repo"}})
	if err != nil {
		t.Fatalf("register credential: %v", err)
	}
	if fetcher.Label != "1" {
		t.Fatalf("expected credential label 1, got %q", fetcher.Label)
	}

	regs := DefaultRegistry().Registrations()
	if len(regs.Triggers) != 1 || regs.Triggers[0].Label != "0" {
		t.Fatalf("unexpected triggers %#v", regs.Triggers)
	}
	if DefaultRegistry().State() != StateScheduledClose {
		t.Fatalf("expected scheduled close, got %s", DefaultRegistry().State())
	}

	err = RegisterTrigger("webhook", func(ctx context.Context, data json.RawMessage) error { return nil }, nil, WithLabel("0"))
	var dup *DuplicateLabelError
	if !errors.As(err, &dup) || !errors.Is(err, ErrDuplicateLabel) {
		t.Fatalf("expected duplicate label error, got %v", err)
	}
}

func TestTypedRegistrationDefaultsToPackageRegistry(t *testing.T) {
	withFreshDefaultRegistry(t)

	if err := RegisterJSONTrigger(nil, "json", func(ctx context.Context, event JSONEvent[map[string]any]) error { return nil }, nil); err != nil {
		t.Fatalf("register json trigger: %v", err)
	}
	if err := RegisterProtoTrigger(nil, "proto", func(ctx context.Context, event ProtoEvent[*structpb.Struct]) error { return nil }, nil); err != nil {
		t.Fatalf("register proto trigger: %v", err)
	}
	if n := len(DefaultRegistry().Triggers()); n != 2 {
		t.Fatalf("expected 2 triggers, got %d", n)
	}
}

func TestDefaultServiceServesPackageRegistrations(t *testing.T) {
	withFreshDefaultRegistry(t)

	if err := RegisterTrigger("webhook", func(ctx context.Context, data json.RawMessage) error {
		Log(ctx, "webhook callback")
		return nil
	}, nil); err != nil {
		t.Fatalf("register trigger: %v", err)
	}

	svc, closer, err := NewDefaultService(&Config{}, NewNopServiceLogger())
	if err != nil {
		t.Fatalf("new default service: %v", err)
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	<-svc.Ready()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("start returned %v", err)
		}
	}()

	resp, err := http.Post("http://"+svc.Addr()+"/__glue__/triggerEvent", "application/json",
		strings.NewReader(`{"type":"webhook","label":"0","data":{}}`))
	if err != nil {
		t.Fatalf("post trigger event: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var result Result
	if err := Unmarshal(body, &result); err != nil {
		t.Fatalf("decode result %s: %v", body, err)
	}
	if len(result.Logs) != 1 || result.Logs[0].Text != "webhook callback\n" || result.Logs[0].Type != Stdout {
		t.Fatalf("unexpected logs %#v", result.Logs)
	}

	if err := RegisterTrigger("late", func(ctx context.Context, data json.RawMessage) error { return nil }, nil); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}
}

func TestServeRejectsInvalidEnvironment(t *testing.T) {
	withFreshDefaultRegistry(t)
	t.Setenv("GLUE_DEV_PORT", "not-a-port")

	if err := Serve(context.Background()); err == nil {
		t.Fatal("expected an error for a malformed port")
	}
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if _, err := MarshalIndent(payload, "", "  "); err != nil {
		t.Fatalf("marshal indent alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestInspectExport(t *testing.T) {
	m := NewInspectMap()
	m.Set("a", 5)
	m.Set("b", m)
	if got := Inspect(m); got != `Map(2) { "a" => 5, "b" => [Circular reference] }` {
		t.Fatalf("unexpected inspect output %q", got)
	}
	if got := Inspect("hello", nil, Undefined, true, false, 1234); got != "hello null undefined true false 1234" {
		t.Fatalf("unexpected inspect output %q", got)
	}
}

func TestMetadataExport(t *testing.T) {
	md := NewMetadata(MetadataKeyDeploymentID, "dep-1")
	if md.DeploymentID() != "dep-1" {
		t.Fatalf("expected deployment id, got %#v", md)
	}
}

func TestErrorCategoryConstants(t *testing.T) {
	if ErrorCategoryNone != "none" {
		t.Fatalf("expected ErrorCategoryNone to be 'none', got %q", ErrorCategoryNone)
	}
	if ErrorCategoryPanic != "panic" {
		t.Fatalf("expected ErrorCategoryPanic to be 'panic', got %q", ErrorCategoryPanic)
	}
}
