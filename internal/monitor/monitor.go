// Package monitor periodically audits the chain and publishes the result as
// gRPC health status and Prometheus gauges.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jmerrifield20/chainledger/internal/ledger"
)

// ServiceName is the gRPC health service reported alongside the overall
// ("") status.
const ServiceName = "chainledger.Ledger"

var (
	chainIntact = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_chain_intact",
		Help: "1 when the last audit found the chain intact, 0 otherwise.",
	})

	chainBlocks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_blocks",
		Help: "Number of blocks seen by the last audit.",
	})

	auditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_audits_total",
		Help: "Total chain audits by result.",
	}, []string{"result"})
)

// Config holds monitor configuration.
type Config struct {
	Interval      time.Duration
	Timeout       time.Duration
	FailThreshold int // consecutive audit errors before NOT_SERVING
}

// Auditor runs a full-chain audit. *ledger.Ledger satisfies it.
type Auditor interface {
	Audit(ctx context.Context) (*ledger.AuditReport, error)
}

// StatusSetter receives serving status changes. *health.Server from
// google.golang.org/grpc/health satisfies it.
type StatusSetter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// BrokenFunc is called once each time the chain goes from intact to broken.
type BrokenFunc func(ctx context.Context, report *ledger.AuditReport)

// ChainMonitor runs periodic chain audits.
type ChainMonitor struct {
	auditor  Auditor
	status   StatusSetter
	cfg      Config
	onBroken BrokenFunc
	logger   *zap.Logger

	mu       sync.Mutex
	last     *ledger.AuditReport
	failures int
	broken   bool
}

// New creates a new ChainMonitor. status may be nil.
func New(auditor Auditor, status StatusSetter, cfg Config, logger *zap.Logger) *ChainMonitor {
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &ChainMonitor{auditor: auditor, status: status, cfg: cfg, logger: logger}
}

// SetBrokenHook configures the intact-to-broken callback.
func (m *ChainMonitor) SetBrokenHook(fn BrokenFunc) {
	m.onBroken = fn
}

// Start audits once immediately and then every Interval until ctx is done.
func (m *ChainMonitor) Start(ctx context.Context) {
	m.runOnce(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *ChainMonitor) runOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	m.Check(ctx)
}

// Check runs one audit and publishes its result. It returns the report, or
// nil when the audit itself failed.
func (m *ChainMonitor) Check(ctx context.Context) *ledger.AuditReport {
	report, err := m.auditor.Audit(ctx)

	m.mu.Lock()
	if err != nil {
		m.failures++
		failures := m.failures
		m.mu.Unlock()

		auditsTotal.WithLabelValues("error").Inc()
		m.logger.Error("monitor: audit failed", zap.Error(err), zap.Int("consecutive", failures))
		if failures == m.cfg.FailThreshold {
			m.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		}
		return nil
	}

	wasBroken := m.broken
	m.failures = 0
	m.broken = !report.Intact
	m.last = report
	m.mu.Unlock()

	chainBlocks.Set(float64(report.Blocks))
	if report.Intact {
		auditsTotal.WithLabelValues("intact").Inc()
		chainIntact.Set(1)
		m.setStatus(healthpb.HealthCheckResponse_SERVING)
		if wasBroken {
			m.logger.Info("monitor: chain intact again", zap.Int("blocks", report.Blocks))
		}
		return report
	}

	auditsTotal.WithLabelValues("broken").Inc()
	chainIntact.Set(0)
	m.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	if !wasBroken {
		m.logger.Warn("monitor: chain integrity broken",
			zap.Intp("broken_at", report.BrokenAt),
			zap.Int("issues", len(report.Issues)),
		)
		if m.onBroken != nil {
			m.onBroken(ctx, report)
		}
	}
	return report
}

// Last returns the most recent successful audit report, or nil.
func (m *ChainMonitor) Last() *ledger.AuditReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *ChainMonitor) setStatus(s healthpb.HealthCheckResponse_ServingStatus) {
	if m.status == nil {
		return
	}
	m.status.SetServingStatus("", s)
	m.status.SetServingStatus(ServiceName, s)
}
