package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the outcome of a single probe or of a whole report.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Result captures one dependency probe.
type Result struct {
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Report aggregates probe results. Ready is false as soon as one probe is not up.
type Report struct {
	Ready  bool     `json:"ready"`
	Status Status   `json:"status"`
	Checks []Result `json:"checks"`
}

// Probe is a named dependency check.
type Probe struct {
	Name string
	Run  func(ctx context.Context) Result
}

// NewProbe wraps fn under name. A nil fn always reports down.
func NewProbe(name string, fn func(ctx context.Context) Result) Probe {
	if fn == nil {
		fn = func(context.Context) Result {
			return Result{Status: StatusDown, Details: "probe not implemented"}
		}
	}
	return Probe{Name: name, Run: fn}
}

// Readiness runs the registered probes in order.
type Readiness struct {
	probes []Probe
}

// NewReadiness returns a Readiness holding probes. Unnamed probes are ignored.
func NewReadiness(probes ...Probe) *Readiness {
	r := &Readiness{}
	for _, p := range probes {
		r.Register(p)
	}
	return r
}

// Register appends a probe.
func (r *Readiness) Register(p Probe) {
	if p.Name == "" {
		return
	}
	r.probes = append(r.probes, p)
}

// Evaluate executes every probe and folds their statuses into a report.
func (r *Readiness) Evaluate(ctx context.Context) Report {
	if ctx == nil {
		ctx = context.Background()
	}
	report := Report{Ready: true, Status: StatusUp, Checks: make([]Result, 0, len(r.probes))}
	for _, p := range r.probes {
		result := run(ctx, p)
		report.Checks = append(report.Checks, result)
		report.Status = worst(report.Status, result.Status)
	}
	report.Ready = report.Status == StatusUp
	return report
}

func run(ctx context.Context, p Probe) (result Result) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = Result{Status: StatusDown, Details: fmt.Sprint(rec)}
		}
		if result.Status == "" {
			result.Status = StatusDown
		}
		if result.Duration == 0 {
			result.Duration = time.Since(start)
		}
		result.Component = p.Name
	}()
	return p.Run(ctx)
}

func worst(a, b Status) Status {
	switch {
	case a == StatusDown || b == StatusDown:
		return StatusDown
	case a == StatusDegraded || b == StatusDegraded:
		return StatusDegraded
	default:
		return StatusUp
	}
}

// FromError maps err to a result. Timeouts and cancellations are degraded, anything else is down.
func FromError(err error, duration time.Duration) Result {
	if err == nil {
		return Result{Status: StatusUp, Duration: duration}
	}
	status := StatusDown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = StatusDegraded
	}
	return Result{Status: status, Details: err.Error(), Duration: duration}
}
