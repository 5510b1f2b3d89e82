package monitoring

import (
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// Comparator is the relational operator an AlertRule evaluates a metric
// value against.
type Comparator string

const (
	ComparatorGT Comparator = ">"
	ComparatorGE Comparator = ">="
	ComparatorLT Comparator = "<"
	ComparatorLE Comparator = "<="
	ComparatorEQ Comparator = "="
	ComparatorNE Comparator = "!="
)

func (c Comparator) evaluate(value, threshold float64) bool {
	switch c {
	case ComparatorGT:
		return value > threshold
	case ComparatorGE:
		return value >= threshold
	case ComparatorLT:
		return value < threshold
	case ComparatorLE:
		return value <= threshold
	case ComparatorEQ:
		return value == threshold
	case ComparatorNE:
		return value != threshold
	default:
		return false
	}
}

// Severity is an alert's criticality level.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertRule is a single {metric, threshold, comparator} condition that
// must hold continuously for ForDuration before it fires.
type AlertRule struct {
	MetricName  string
	Threshold   float64
	Comparator  Comparator
	Severity    Severity
	ForDuration time.Duration
	Description string
}

// AlertState is an alert rule's lifecycle stage.
type AlertState string

const (
	AlertPending  AlertState = "pending"
	AlertFiring   AlertState = "firing"
	AlertResolved AlertState = "resolved"
)

// Alert is the live tracked instance of a rule, carrying when its
// breaching condition was first observed and its current state.
type Alert struct {
	Rule          AlertRule
	State         AlertState
	BreachingSice time.Time
	LastValue     float64
	UpdatedAt     time.Time
}

// AlertEngine evaluates a fixed set of rules against metric samples and a
// health registry's aggregate report, escalating pending->firing->resolved
// and notifying Sentry on critical transitions into firing.
type AlertEngine struct {
	mu     sync.Mutex
	rules  []AlertRule
	alerts map[string]*Alert

	healthRuleName string
}

const healthAlertMetric = "component_health"

// NewAlertEngine creates an alert engine seeded with rules and a synthetic
// health-status rule driven by Registry reports.
func NewAlertEngine(rules []AlertRule) *AlertEngine {
	return &AlertEngine{
		rules:          append([]AlertRule(nil), rules...),
		alerts:         make(map[string]*Alert),
		healthRuleName: healthAlertMetric,
	}
}

// EvaluateMetric applies every rule whose MetricName matches against one
// sample value, advancing that rule's Alert state machine.
func (e *AlertEngine) EvaluateMetric(metric string, value float64, now time.Time) []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var transitions []Alert
	for _, rule := range e.rules {
		if rule.MetricName != metric {
			continue
		}
		if a := e.stepRule(rule, rule.Comparator.evaluate(value, rule.Threshold), value, now); a != nil {
			transitions = append(transitions, *a)
		}
	}
	return transitions
}

// EvaluateHealth folds a health Registry's aggregate report into the
// synthetic component_health alert: Unhealthy maps to Critical, Degraded
// to Warning, and Healthy resolves any open health alert immediately.
func (e *AlertEngine) EvaluateHealth(report AggregateReport) []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var breaching bool
	var severity Severity
	switch report.OverallStatus {
	case StatusUnhealthy:
		breaching, severity = true, SeverityCritical
	case StatusDegraded:
		breaching, severity = true, SeverityWarning
	default:
		breaching = false
	}

	rule := AlertRule{
		MetricName:  e.healthRuleName,
		Severity:    severity,
		ForDuration: 0,
		Description: fmt.Sprintf("overall component health is %s", report.OverallStatus),
	}

	var transitions []Alert
	if a := e.stepRule(rule, breaching, float64(report.OverallStatus), report.EvaluatedAt); a != nil {
		transitions = append(transitions, *a)
	}
	return transitions
}

// stepRule must be called with e.mu held.
func (e *AlertEngine) stepRule(rule AlertRule, breaching bool, value float64, now time.Time) *Alert {
	key := rule.MetricName
	existing, tracked := e.alerts[key]

	if !breaching {
		if tracked && existing.State != AlertResolved {
			existing.State = AlertResolved
			existing.UpdatedAt = now
			resolved := *existing
			delete(e.alerts, key)
			return &resolved
		}
		return nil
	}

	if !tracked {
		a := &Alert{Rule: rule, State: AlertPending, BreachingSice: now, LastValue: value, UpdatedAt: now}
		e.alerts[key] = a
		if rule.ForDuration <= 0 {
			a.State = AlertFiring
			e.notify(*a)
			return a
		}
		return nil
	}

	existing.LastValue = value
	existing.UpdatedAt = now
	if existing.State == AlertPending && now.Sub(existing.BreachingSice) >= rule.ForDuration {
		existing.State = AlertFiring
		e.notify(*existing)
		return existing
	}
	return nil
}

// notify reports a newly firing critical alert to Sentry.
func (e *AlertEngine) notify(a Alert) {
	if a.Rule.Severity != SeverityCritical {
		return
	}
	sentry.CaptureMessage(fmt.Sprintf("[%s] %s: value=%.4f threshold=%s%.4f", a.Rule.Severity, a.Rule.Description, a.LastValue, a.Rule.Comparator, a.Rule.Threshold))
}

// Active returns every alert currently in the pending or firing state.
func (e *AlertEngine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	active := make([]Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		active = append(active, *a)
	}
	return active
}
