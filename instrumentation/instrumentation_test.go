package instrumentation

import (
	"context"
	"testing"
)

func TestNew_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if inst.Metrics() == nil {
		t.Fatal("Metrics() = nil")
	}
	if inst.MeterProvider() == nil || inst.TracerProvider() == nil {
		t.Fatal("providers not initialized")
	}
}

func TestRecordingIsSafe(t *testing.T) {
	inst, err := New(Config{ServiceName: "test", Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	m := inst.Metrics()

	// None of these may panic regardless of provider backing.
	m.RecordCodeIssued(ctx, "client-1", "S256")
	m.RecordCodeExchange(ctx, "client-1", "S256")
	m.RecordTokenIssued(ctx, "client-1", "authorization_code")
	m.RecordTokenRefresh(ctx, "client-1")
	m.RecordTokenRevocation(ctx, "client-1")
	m.RecordIntrospection(ctx, true)
	m.RecordIntrospection(ctx, false)
	m.RecordAuthenticationFailed(ctx, "client-1")
	m.RecordPKCEValidationFailed(ctx, "plain")
	m.RecordCodeReuseDetected(ctx)
	m.RecordTokenReuseDetected(ctx)
	m.RecordStorageOperation(ctx, "save_token", "success", 1.2)
}

func TestRegisterStoreSizeCallbacks(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = inst.RegisterStoreSizeCallbacks(
		func() int64 { return 1 },
		func() int64 { return 2 },
		nil,
	)
	if err != nil {
		t.Fatalf("RegisterStoreSizeCallbacks() error = %v", err)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := inst.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestScopedNames(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if inst.Meter("server") == nil {
		t.Error("Meter() = nil")
	}
	if inst.Tracer("storage") == nil {
		t.Error("Tracer() = nil")
	}
}
