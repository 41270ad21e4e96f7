package mappinghost

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/time/rate"
)

// QuotaConfig bounds how much of the host process's resources mapping
// execution may consume (spec §5.3 "resource limits").
type QuotaConfig struct {
	// MaxEventsPerSecond caps the rate at which HandleEvent may run
	// handlers, smoothing load spikes from reorg replays.
	MaxEventsPerSecond float64
	Burst              int
	// MaxRSSBytes rejects new handler invocations once the host process's
	// resident set exceeds this size, rather than letting a runaway
	// mapping OOM the node. Zero disables the check.
	MaxRSSBytes uint64
}

func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		MaxEventsPerSecond: 500,
		Burst:              1000,
	}
}

// Quota gates Host.HandleEvent with a token-bucket rate limit (grounded on
// the teacher's infrastructure/ratelimit.RateLimiter) plus an optional
// resident-memory ceiling sampled via gopsutil.
type Quota struct {
	cfg     QuotaConfig
	limiter *rate.Limiter
	proc    *process.Process
}

func NewQuota(cfg QuotaConfig) (*Quota, error) {
	if cfg.MaxEventsPerSecond <= 0 {
		cfg.MaxEventsPerSecond = 500
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.MaxEventsPerSecond * 2)
	}

	q := &Quota{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxEventsPerSecond), cfg.Burst),
	}

	if cfg.MaxRSSBytes > 0 {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return nil, fmt.Errorf("quota: sample own process: %w", err)
		}
		q.proc = p
	}

	return q, nil
}

// Acquire blocks until the rate limiter admits the caller, then checks the
// memory ceiling. Released handler invocations call Release, which is a
// no-op: the limiter only bounds admission rate, not concurrency.
func (q *Quota) Acquire(ctx context.Context) error {
	if err := q.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("quota: rate limit wait: %w", err)
	}
	if q.proc == nil {
		return nil
	}

	info, err := q.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return fmt.Errorf("quota: sample memory: %w", err)
	}
	if info.RSS > q.cfg.MaxRSSBytes {
		return fmt.Errorf("quota: resident set %d bytes exceeds limit %d bytes", info.RSS, q.cfg.MaxRSSBytes)
	}
	return nil
}

func (q *Quota) Release() {}
