// internal/policy/decision.go
package policy

import (
	"fmt"
	"strconv"
)

// Kind identifies what the supervisor should do after an evaluation.
type Kind int

const (
	NoAction Kind = iota
	PartialSell
	FullSell
)

func (k Kind) String() string {
	switch k {
	case NoAction:
		return "no_action"
	case PartialSell:
		return "partial_sell"
	case FullSell:
		return "full_sell"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Snapshot carries the refreshed price fields so the caller can persist them
// even when no sale is due.
type Snapshot struct {
	Price        float64
	PnLPercent   float64
	High         float64
	Low          float64
	DropFromHigh float64
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Kind     Kind
	Percent  float64 // share of the remaining amount, only for PartialSell
	Reason   string
	Snapshot Snapshot
}

// IsSell reports whether the decision requires a swap.
func (d Decision) IsSell() bool {
	return d.Kind == PartialSell || d.Kind == FullSell
}

func (d Decision) String() string {
	switch d.Kind {
	case PartialSell:
		return fmt.Sprintf("partial_sell(%s%%, %s)", formatPct(d.Percent), d.Reason)
	case FullSell:
		return fmt.Sprintf("full_sell(%s)", d.Reason)
	default:
		return "no_action"
	}
}

func formatPct(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
