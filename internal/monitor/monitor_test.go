package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jmerrifield20/chainledger/internal/canonical"
	"github.com/jmerrifield20/chainledger/internal/ledger"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type failingAuditor struct{ calls int }

func (f *failingAuditor) Audit(context.Context) (*ledger.AuditReport, error) {
	f.calls++
	return nil, &ledger.StorageError{Op: "scan", Err: errors.New("disk gone")}
}

func newLedger(t *testing.T, n int) (*ledger.Ledger, *ledger.MemoryStore) {
	t.Helper()
	mem := ledger.NewMemoryStore()
	l := ledger.New(mem)
	for i := range n {
		_, err := l.Append(context.Background(), ledger.AppendRequest{
			RecordID:   "R-" + string(rune('A'+i)),
			EntityKind: "sensor_reading",
			Content:    canonical.Structured(map[string]any{"i": i}),
			Actor:      "sensor-7",
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return l, mem
}

func servingStatus(t *testing.T, hs *health.Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("health check %q: %v", service, err)
	}
	return resp.GetStatus()
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestCheck_intact(t *testing.T) {
	l, _ := newLedger(t, 3)
	hs := health.NewServer()
	m := New(l, hs, Config{}, zap.NewNop())

	report := m.Check(context.Background())
	if report == nil || !report.Intact || report.Blocks != 3 {
		t.Fatalf("report = %+v", report)
	}
	if got := servingStatus(t, hs, ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v", got)
	}
	if m.Last() != report {
		t.Error("Last() should return the latest report")
	}
}

func TestCheck_brokenThenRepaired(t *testing.T) {
	l, mem := newLedger(t, 3)
	hs := health.NewServer()
	m := New(l, hs, Config{}, zap.NewNop())

	var hooks int
	m.SetBrokenHook(func(_ context.Context, r *ledger.AuditReport) {
		hooks++
		if r.BrokenAt == nil || *r.BrokenAt != 1 {
			t.Errorf("BrokenAt = %v", r.BrokenAt)
		}
	})

	original, _ := l.At(context.Background(), 1)
	mem.Tamper(1, `{"i": 99}`)

	m.Check(context.Background())
	m.Check(context.Background())
	if hooks != 1 {
		t.Errorf("broken hook fired %d times, want 1", hooks)
	}
	if got := servingStatus(t, hs, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v", got)
	}

	mem.Tamper(1, original.Content)
	m.Check(context.Background())
	if got := servingStatus(t, hs, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status after repair = %v", got)
	}
}

func TestCheck_notServingAfterThreshold(t *testing.T) {
	hs := health.NewServer()
	auditor := &failingAuditor{}
	m := New(auditor, hs, Config{FailThreshold: 2}, zap.NewNop())

	if m.Check(context.Background()) != nil {
		t.Fatal("expected nil report on audit error")
	}
	if got := servingStatus(t, hs, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status after one failure = %v", got)
	}
	m.Check(context.Background())
	if got := servingStatus(t, hs, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status after threshold = %v", got)
	}
}

func TestStart_stopsOnCancel(t *testing.T) {
	l, _ := newLedger(t, 1)
	m := New(l, nil, Config{Interval: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if m.Last() == nil {
		t.Error("expected at least one audit")
	}
}
