package engine

// Context is the per-request recommendation context. Engines in this package only read
// the limit; the surrounding framework may carry more.
type Context interface {
	// Limit is the maximum number of recommendations wanted.
	Limit() int
}

type staticContext struct {
	limit int
}

func (c staticContext) Limit() int {
	return c.limit
}

// NewContext returns a read-only Context asking for limit recommendations.
func NewContext(limit int) Context {
	return staticContext{limit: limit}
}

// ParticipationPolicy tells the surrounding framework when an engine should run.
type ParticipationPolicy int

const (
	// Always runs the engine regardless of results collected so far.
	Always ParticipationPolicy = iota

	// IfMoreResultsNeeded runs the engine only while fewer than Limit results are collected.
	IfMoreResultsNeeded
)

// Participate reports whether an engine governed by p should run when collected
// recommendations have already been gathered by other engines.
func (p ParticipationPolicy) Participate(ctx Context, collected int) bool {
	switch p {
	case IfMoreResultsNeeded:
		return collected < ctx.Limit()
	default:
		return true
	}
}

func (p ParticipationPolicy) String() string {
	switch p {
	case Always:
		return "always"
	case IfMoreResultsNeeded:
		return "if_more_results_needed"
	default:
		return "unknown"
	}
}
