package middleware_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/copilotz/pkg/adapters/memory"
	"github.com/aretw0/copilotz/pkg/domain"
	"github.com/aretw0/copilotz/pkg/persistence/middleware"
)

var wf = &domain.Workflow{Name: "signup", Steps: []domain.Step{{Name: "collect"}}}

func TestPIIMiddleware_Masking(t *testing.T) {
	underlyingStore := memory.NewTaskStore()
	// Mask keys containing "password" or "ssn"
	mw, err := middleware.NewPIIMiddleware([]string{"password", "ssn"})
	if err != nil {
		t.Fatal(err)
	}
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	task := domain.NewTask("task-1", "thread-1", wf, time.Now())
	task.Context.State["username"] = "jdoe"
	task.Context.State["user_password"] = "secret123"
	task.Context.State["details"] = map[string]any{
		"address":    "123 St",
		"ssn_number": "999-99-9999",
	}
	task.Context.Steps["collect"] = domain.StepRecord{Args: map[string]any{"password": "hunter2", "email": "a@b.c"}}

	if err := secureStore.Create(ctx, task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// The task of the running turn keeps its values.
	if task.Context.State["user_password"] != "secret123" {
		t.Error("Middleware modified the original task")
	}
	if task.Context.State["details"].(map[string]any)["ssn_number"] != "999-99-9999" {
		t.Error("Middleware modified a nested map of the original task")
	}
	if task.Context.Steps["collect"].Args["password"] != "hunter2" {
		t.Error("Middleware modified the original step args")
	}

	stored, err := underlyingStore.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Underlying get failed: %v", err)
	}
	if stored.Context.State["username"] != "jdoe" {
		t.Error("Username shouldn't be masked")
	}
	if stored.Context.State["user_password"] != middleware.Mask {
		t.Errorf("Password should be masked, got: %v", stored.Context.State["user_password"])
	}
	details := stored.Context.State["details"].(map[string]any)
	if details["ssn_number"] != middleware.Mask {
		t.Errorf("Nested SSN should be masked, got: %v", details["ssn_number"])
	}
	args := stored.Context.Steps["collect"].Args
	if args["password"] != middleware.Mask || args["email"] != "a@b.c" {
		t.Errorf("Unexpected step args: %v", args)
	}
}

func TestPIIMiddleware_InvalidPattern(t *testing.T) {
	if _, err := middleware.NewPIIMiddleware([]string{"("}); err == nil {
		t.Error("Expected error for invalid pattern")
	}
}
