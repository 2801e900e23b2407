package security

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Level selects a preset of resource limits and code checks.
type Level string

const (
	LevelStrict     Level = "strict"
	LevelStandard   Level = "standard"
	LevelPermissive Level = "permissive"
)

// ParseLevel parses a security level name. Empty means standard.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case "", LevelStandard:
		return LevelStandard, nil
	case LevelStrict:
		return LevelStrict, nil
	case LevelPermissive:
		return LevelPermissive, nil
	}
	return "", fmt.Errorf("unknown security level %q", s)
}

// ResourceLimits defines resource limits for a sandbox.
type ResourceLimits struct {
	// Maximum wall time per execution. Zero means no cap beyond the
	// sandbox timeout.
	MaxExecutionTime time.Duration `toml:"max_execution_time" yaml:"max_execution_time"`

	// Memory limit in MB (advisory - not enforced by the Lua runtime)
	MaxMemory int `toml:"max_memory" yaml:"max_memory"`

	// CPU budget in percent, 0..100 (advisory)
	MaxCPUUsage int `toml:"max_cpu_usage" yaml:"max_cpu_usage"`

	// Maximum sandboxed file operations per second
	FileOpsPerSecond int `toml:"file_ops_per_second" yaml:"file_ops_per_second"`
}

// DefaultResourceLimits returns sensible default limits.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxExecutionTime: 5 * time.Second,
		MaxMemory:        64,
		MaxCPUUsage:      80,
		FileOpsPerSecond: 100,
	}
}

// StrictResourceLimits returns stricter limits for untrusted plugins.
func StrictResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxExecutionTime: 1 * time.Second,
		MaxMemory:        16,
		MaxCPUUsage:      25,
		FileOpsPerSecond: 10,
	}
}

// RelaxedResourceLimits returns relaxed limits for trusted plugins.
func RelaxedResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxExecutionTime: 30 * time.Second,
		MaxMemory:        256,
		MaxCPUUsage:      100,
		FileOpsPerSecond: 1000,
	}
}

// LimitsFor returns the preset for level.
func LimitsFor(level Level) ResourceLimits {
	switch level {
	case LevelStrict:
		return StrictResourceLimits()
	case LevelPermissive:
		return RelaxedResourceLimits()
	default:
		return DefaultResourceLimits()
	}
}

// Validate checks that limits are in range.
func (l ResourceLimits) Validate() error {
	if l.MaxExecutionTime < 0 {
		return fmt.Errorf("max execution time must not be negative")
	}
	if l.MaxMemory < 0 {
		return fmt.Errorf("max memory must not be negative")
	}
	if l.MaxCPUUsage < 0 || l.MaxCPUUsage > 100 {
		return fmt.Errorf("max cpu usage %d out of range [0, 100]", l.MaxCPUUsage)
	}
	return nil
}

// EffectiveTimeout caps timeout by MaxExecutionTime.
func (l ResourceLimits) EffectiveTimeout(timeout time.Duration) time.Duration {
	if l.MaxExecutionTime > 0 && (timeout <= 0 || l.MaxExecutionTime < timeout) {
		return l.MaxExecutionTime
	}
	return timeout
}

// ResourceUsage represents a snapshot of resource usage.
type ResourceUsage struct {
	// Wall time of the most recent execution
	ExecutionTime time.Duration

	TotalExecutionTime time.Duration
	Executions         int64
	Timeouts           int64
	FileOps            int64
	RateLimited        int64
	Limits             ResourceLimits
}

// ResourceMonitor tracks execution time and sandboxed I/O against limits.
type ResourceMonitor struct {
	mu sync.Mutex

	limits  ResourceLimits
	usage   ResourceUsage
	fileOps *RateLimiter
}

// NewResourceMonitor creates a new resource monitor with the given limits.
func NewResourceMonitor(limits ResourceLimits) *ResourceMonitor {
	return &ResourceMonitor{
		limits:  limits,
		fileOps: NewRateLimiter(limits.FileOpsPerSecond),
	}
}

// RecordExecution records one finished execution.
func (rm *ResourceMonitor) RecordExecution(d time.Duration, timedOut bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.usage.ExecutionTime = d
	rm.usage.TotalExecutionTime += d
	rm.usage.Executions++
	if timedOut {
		rm.usage.Timeouts++
	}
}

// TryFileOp records a file operation and reports whether the rate limit allows it.
func (rm *ResourceMonitor) TryFileOp() bool {
	if !rm.fileOps.Allow() {
		rm.mu.Lock()
		rm.usage.RateLimited++
		rm.mu.Unlock()
		return false
	}
	rm.mu.Lock()
	rm.usage.FileOps++
	rm.mu.Unlock()
	return true
}

// Limits returns the current limits.
func (rm *ResourceMonitor) Limits() ResourceLimits {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.limits
}

// Usage returns a snapshot of current usage.
func (rm *ResourceMonitor) Usage() ResourceUsage {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	u := rm.usage
	u.Limits = rm.limits
	return u
}

// Reset clears all counters.
func (rm *ResourceMonitor) Reset() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.usage = ResourceUsage{}
	rm.fileOps.Reset()
}

// RateLimiter implements a simple token bucket rate limiter.
type RateLimiter struct {
	mu sync.Mutex

	rate       int // operations per second
	tokens     int
	maxTokens  int
	lastRefill time.Time
}

// NewRateLimiter creates a new rate limiter. A non-positive rate means no limit.
func NewRateLimiter(ratePerSecond int) *RateLimiter {
	if ratePerSecond <= 0 {
		return &RateLimiter{}
	}
	return &RateLimiter{
		rate:       ratePerSecond,
		tokens:     ratePerSecond,
		maxTokens:  ratePerSecond,
		lastRefill: time.Now(),
	}
}

// Allow returns true if an operation is allowed.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.rate == 0 {
		return true
	}

	now := time.Now()
	if add := int(now.Sub(rl.lastRefill).Seconds() * float64(rl.rate)); add > 0 {
		rl.tokens = min(rl.tokens+add, rl.maxTokens)
		rl.lastRefill = now
	}

	if rl.tokens <= 0 {
		return false
	}
	rl.tokens--
	return true
}

// Reset restores the limiter to full capacity.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = rl.maxTokens
	rl.lastRefill = time.Now()
}
