// Package usage turns cumulative token counters into a context-remaining
// figure.
package usage

import "fmt"

// BaselineTokens approximates the fixed prompt overhead reserved out of
// every context window.
const BaselineTokens int64 = 12000

// Counts are cumulative token counters reported by the agent.
type Counts struct {
	Input       int64 `json:"input_tokens"`
	CachedInput int64 `json:"cached_input_tokens"`
	Output      int64 `json:"output_tokens"`
	Reasoning   int64 `json:"reasoning_output_tokens,omitempty"`
	Total       int64 `json:"total_tokens,omitempty"`
}

// Report is the outcome of Compute. Percent and Window are only meaningful
// when HasWindow is set.
type Report struct {
	Blended          int64
	Window           int64
	Baseline         int64
	EffectiveWindow  int64
	Used             int64
	Remaining        int64
	PercentRemaining int
	HasWindow        bool
}

// Blended is the cost-relevant share of usage: uncached input plus output.
func (c Counts) Blended() int64 {
	return max(0, c.Input-c.CachedInput) + c.Output
}

// Compute reports blended usage and, when window is positive, the percent
// of the context window still available.
func Compute(c Counts, window int64) Report {
	r := Report{Blended: c.Blended()}
	if window <= 0 {
		return r
	}

	r.HasWindow = true
	r.Window = window
	r.Baseline = min(BaselineTokens, window/4)
	r.EffectiveWindow = window - r.Baseline
	if r.EffectiveWindow <= 0 {
		r.EffectiveWindow = window
	}
	r.Used = max(0, r.Blended-r.Baseline)
	r.Remaining = r.EffectiveWindow - r.Used

	pct := 100 * float64(r.Remaining) / float64(r.EffectiveWindow)
	switch {
	case pct < 0:
		pct = 0
	case pct > 100:
		pct = 100
	}
	r.PercentRemaining = int(pct)
	return r
}

func (r Report) String() string {
	if !r.HasWindow {
		return fmt.Sprintf("%d tokens used", r.Blended)
	}
	return fmt.Sprintf("%d tokens used, %d%% context left", r.Blended, r.PercentRemaining)
}
