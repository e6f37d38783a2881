// SPDX-License-Identifier: Apache-2.0

package classify

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryCapacity bounds the rolling classification history.
const DefaultHistoryCapacity = 10000

// relatedScanWindow bounds the related-error scan on every classify call.
const relatedScanWindow = 5 * time.Minute

// Request carries the raw failure facts into Classify.
type Request struct {
	Category    Category
	Subcategory string
	Message     string
	Cause       error
	Component   string
	Context     map[string]string
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithHistoryCapacity overrides the rolling history bound.
func WithHistoryCapacity(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithLogger sets the classifier logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithoutDefaultPatterns skips registration of the built-in patterns.
func WithoutDefaultPatterns() Option {
	return func(c *Classifier) { c.skipDefaults = true }
}

// WithPatternSignalHandler registers a callback invoked whenever a
// pattern's frequency threshold is crossed. The alert manager hooks in
// here. The callback runs inline on the classifying goroutine and must
// not block.
func WithPatternSignalHandler(fn func(PatternSignal)) Option {
	return func(c *Classifier) { c.onSignal = fn }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		if now != nil {
			c.now = now
		}
	}
}

// Classifier assigns classifications to failures and keeps a bounded
// rolling history for correlation and statistics. Safe for concurrent use.
type Classifier struct {
	mu           sync.Mutex
	history      []*ErrorClassification
	capacity     int
	patterns     []*ErrorPattern
	matchTimes   map[string][]time.Time
	logger       *slog.Logger
	onSignal     func(PatternSignal)
	skipDefaults bool
	now          func() time.Time
}

// NewClassifier builds a classifier with the default pattern set.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		capacity:   DefaultHistoryCapacity,
		matchTimes: make(map[string][]time.Time),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.skipDefaults {
		for _, spec := range DefaultPatternSpecs() {
			if p, err := spec.Compile(); err == nil {
				c.patterns = append(c.patterns, p)
			}
		}
	}
	return c
}

// RegisterPattern compiles and adds a pattern at runtime.
func (c *Classifier) RegisterPattern(spec PatternSpec) error {
	p, err := spec.Compile()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.patterns = append(c.patterns, p)
	c.mu.Unlock()
	return nil
}

// RegisterPatternPack compiles and adds every pattern in a YAML pack.
func (c *Classifier) RegisterPatternPack(data []byte) error {
	specs, err := LoadPatternSpecs(data)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		if err := c.RegisterPattern(spec); err != nil {
			return err
		}
	}
	return nil
}

// Classify builds an ErrorClassification for the request, appends it to
// the rolling history and runs pattern correlation. It never fails: any
// internal panic is recovered and the classification is still returned.
func (c *Classifier) Classify(req Request) *ErrorClassification {
	if !KnownCategory(req.Category) {
		req.Category = CategoryUnknown
		if req.Subcategory == "" {
			req.Subcategory = "unclassified"
		}
	}
	ctx := make(map[string]string, len(req.Context))
	for k, v := range req.Context {
		ctx[k] = v
	}

	severity := inferSeverity(req.Category, req.Subcategory, req.Cause != nil)
	impact := inferImpact(severity, req.Category, req.Subcategory, ctx)
	recoverable, strategy, actions := inferRecovery(req.Category, req.Subcategory)

	cl := &ErrorClassification{
		ID:               uuid.NewString(),
		Category:         req.Category,
		Subcategory:      req.Subcategory,
		Severity:         severity,
		Impact:           impact,
		Recoverable:      recoverable,
		RecoveryStrategy: strategy,
		SuggestedActions: actions,
		Message:          req.Message,
		Timestamp:        c.now().UTC(),
		Component:        req.Component,
		Context:          ctx,
	}
	cl.AffectedUsers = singleton(ctx[ContextUserID])
	cl.AffectedWorkspaces = singleton(ctx[ContextWorkspaceID])
	cl.AffectedTools = singleton(ctx[ContextToolName])
	cl.Tags = buildTags(cl)

	// History append and correlation must never surface a failure to
	// the caller.
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("classify.correlation.panic", slog.Any("panic", r))
			}
		}()
		c.record(cl)
	}()

	return cl
}

func (c *Classifier) record(cl *ErrorClassification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, cl)
	if len(c.history) > c.capacity {
		c.history = c.history[len(c.history)-c.capacity:]
	}

	c.correlateLocked(cl)
	c.scanRelatedLocked(cl)
}

// correlateLocked tests every registered pattern against the new
// classification and fires auto-action signals on threshold crossing.
func (c *Classifier) correlateLocked(cl *ErrorClassification) {
	for _, p := range c.patterns {
		if !p.Matches(cl) {
			continue
		}
		cutoff := cl.Timestamp.Add(-p.TimeWindow)
		times := append(c.matchTimes[p.Name], cl.Timestamp)
		trimmed := times[:0]
		for _, t := range times {
			if !t.Before(cutoff) {
				trimmed = append(trimmed, t)
			}
		}
		c.matchTimes[p.Name] = trimmed

		if len(trimmed) < p.FrequencyThreshold {
			continue
		}
		sig := PatternSignal{
			Pattern:             p.Name,
			Category:            cl.Category,
			MatchCount:          len(trimmed),
			Window:              p.TimeWindow,
			Classification:      cl,
			Notify:              p.Notify,
			CreateIncident:      p.CreateIncident,
			Escalate:            p.Escalate,
			ApplyCircuitBreaker: p.ApplyCircuitBreaker,
		}
		c.logger.Warn("classify.pattern.fired",
			slog.String("pattern", p.Name),
			slog.Int("matches", sig.MatchCount),
			slog.Duration("window", p.TimeWindow),
			slog.String("category", string(cl.Category)),
			slog.String("component", cl.Component),
		)
		if c.onSignal != nil {
			c.onSignal(sig)
		}
	}
}

// scanRelatedLocked surfaces recent classifications that share a
// correlation id or overlap in affected entities. Informational only.
func (c *Classifier) scanRelatedLocked(cl *ErrorClassification) {
	cutoff := cl.Timestamp.Add(-relatedScanWindow)
	var related []string
	for i := len(c.history) - 1; i >= 0; i-- {
		prev := c.history[i]
		if prev.Timestamp.Before(cutoff) {
			break
		}
		if prev.ID == cl.ID {
			continue
		}
		if isRelated(cl, prev) {
			related = append(related, prev.ID)
		}
	}
	if len(related) > 0 {
		c.logger.Debug("classify.related",
			slog.String("id", cl.ID),
			slog.Int("related", len(related)),
		)
	}
}

func isRelated(a, b *ErrorClassification) bool {
	if cid := a.CorrelationID(); cid != "" && cid == b.CorrelationID() {
		return true
	}
	return overlaps(a.AffectedUsers, b.AffectedUsers) ||
		overlaps(a.AffectedWorkspaces, b.AffectedWorkspaces) ||
		overlaps(a.AffectedTools, b.AffectedTools)
}

// Statistics summarizes classifications within [now-window, now].
type Statistics struct {
	Total       int
	ByCategory  map[Category]int
	BySeverity  map[string]int
	ByComponent map[string]int
	TopPatterns []PatternCount
}

// PatternCount pairs a pattern name with its recent match count.
type PatternCount struct {
	Name  string
	Count int
}

// GetErrorStatistics counts classifications and pattern matches inside
// the window.
func (c *Classifier) GetErrorStatistics(window time.Duration) Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().UTC().Add(-window)
	stats := Statistics{
		ByCategory:  make(map[Category]int),
		BySeverity:  make(map[string]int),
		ByComponent: make(map[string]int),
	}
	for _, cl := range c.history {
		if cl.Timestamp.Before(cutoff) {
			continue
		}
		stats.Total++
		stats.ByCategory[cl.Category]++
		stats.BySeverity[cl.Severity.String()]++
		if cl.Component != "" {
			stats.ByComponent[cl.Component]++
		}
	}
	for name, times := range c.matchTimes {
		n := 0
		for _, t := range times {
			if !t.Before(cutoff) {
				n++
			}
		}
		if n > 0 {
			stats.TopPatterns = append(stats.TopPatterns, PatternCount{Name: name, Count: n})
		}
	}
	sort.Slice(stats.TopPatterns, func(i, j int) bool {
		if stats.TopPatterns[i].Count != stats.TopPatterns[j].Count {
			return stats.TopPatterns[i].Count > stats.TopPatterns[j].Count
		}
		return stats.TopPatterns[i].Name < stats.TopPatterns[j].Name
	})
	if len(stats.TopPatterns) > 5 {
		stats.TopPatterns = stats.TopPatterns[:5]
	}
	return stats
}

// HistoryLen returns the current history size.
func (c *Classifier) HistoryLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// OldestHistoryID returns the id of the oldest retained classification,
// or "" when history is empty.
func (c *Classifier) OldestHistoryID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return ""
	}
	return c.history[0].ID
}

// --- deterministic inference rules ---

var criticalSubcategories = map[string]bool{
	"memory_exhausted":          true,
	"disk_full":                 true,
	"deadlock":                  true,
	"data_integrity_violation":  true,
	"security_policy_violation": true,
}

func inferSeverity(cat Category, subcat string, hasCause bool) Severity {
	switch {
	case strings.Contains(subcat, "fatal") || strings.Contains(subcat, "corruption"):
		return SeverityFatal
	case cat == CategorySystemResource || cat == CategoryIntegrationDB || criticalSubcategories[subcat]:
		return SeverityCritical
	case cat == CategoryToolExecution || cat == CategoryIntegrationAPI || cat == CategoryExternalService || hasCause:
		return SeverityError
	case cat == CategoryToolValidation || cat == CategoryUserInput || cat == CategoryExternalTimeout:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func inferImpact(sev Severity, cat Category, subcat string, ctx map[string]string) Impact {
	switch {
	case sev == SeverityFatal || sev == SeverityCritical:
		return ImpactCritical
	case cat == CategorySystemResource || cat == CategorySystemNetwork || cat == CategoryIntegrationDB:
		return ImpactHigh
	case strings.Contains(subcat, "service") || strings.Contains(subcat, "connection") || strings.Contains(subcat, "auth"):
		return ImpactMedium
	case ctx[ContextUserID] != "" || cat == CategoryUserInput:
		return ImpactLow
	default:
		return ImpactNone
	}
}

var retryableSubstrings = []string{"timeout", "connection_failed", "rate_limit_exceeded", "service_unavailable"}

func inferRecovery(cat Category, subcat string) (bool, RecoveryStrategy, []string) {
	switch {
	case strings.Contains(subcat, "corruption") || strings.Contains(subcat, "fatal"):
		return false, RecoveryNone, []string{
			"Stop writes to the affected resource",
			"Restore from the last known good state",
			"Page the on-call engineer",
		}
	case containsAny(subcat, retryableSubstrings):
		return true, RecoveryRetry, []string{
			"Retry with exponential backoff",
			"Check downstream service status",
			"Verify network connectivity",
		}
	case cat == CategoryToolExecution || cat == CategoryExternalService:
		return true, RecoveryFallback, []string{
			"Switch to an alternative tool or provider",
			"Serve cached results if available",
			"Review recent tool output for partial results",
		}
	case cat == CategoryToolConfiguration || cat == CategoryUserInput:
		return true, RecoveryManual, []string{
			"Validate the configuration or input against the schema",
			"Correct the reported field and resubmit",
		}
	default:
		return true, RecoveryDegrade, []string{
			"Continue with reduced functionality",
			"Monitor error rates for escalation",
		}
	}
}

func buildTags(cl *ErrorClassification) []string {
	tags := []string{string(cl.Category), cl.Subcategory}
	if cl.Component != "" {
		tags = append(tags, cl.Component)
	}
	for key, prefix := range map[string]string{
		ContextOperation:   "op:",
		ContextToolName:    "tool:",
		ContextAgentID:     "agent:",
		ContextWorkspaceID: "workspace:",
		ContextEnvironment: "env:",
	} {
		if v := cl.Context[key]; v != "" {
			tags = append(tags, prefix+v)
		}
	}
	sort.Strings(tags)
	return tags
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func singleton(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
