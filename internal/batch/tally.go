package batch

import (
	"fmt"

	"github.com/kerfworks/kerf/api"
)

// Outcome is the result of visiting one node.
type Outcome uint8

const (
	// Skipped nodes were clean and not forced.
	Skipped Outcome = iota
	// Processed nodes were scored and cleaned.
	Processed
	// Partial nodes were scored while a child was still dirty; they stay dirty.
	Partial
	// Superseded nodes were scored but edited meanwhile; they stay dirty.
	Superseded
	// Failed nodes could not be scored or persisted; they stay dirty.
	Failed
)

var outcomeNames = [...]string{"skipped", "processed", "partial", "superseded", "failed"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// Outcomes lists every outcome, for reporting.
func Outcomes() []Outcome {
	return []Outcome{Skipped, Processed, Partial, Superseded, Failed}
}

// Counts tallies outcomes for one kind. Partial and Superseded nodes were
// scored, so they are also counted as Processed.
type Counts struct {
	Processed  int `json:"processed"`
	Skipped    int `json:"skipped"`
	Partial    int `json:"partial"`
	Superseded int `json:"superseded"`
	Failed     int `json:"failed"`
}

func (c *Counts) add(o Outcome) {
	switch o {
	case Skipped:
		c.Skipped++
	case Processed:
		c.Processed++
	case Partial:
		c.Processed++
		c.Partial++
	case Superseded:
		c.Processed++
		c.Superseded++
	case Failed:
		c.Failed++
	}
}

// Visited returns the number of nodes the counts cover.
func (c Counts) Visited() int {
	return c.Processed + c.Skipped + c.Failed
}

func (c *Counts) merge(o Counts) {
	c.Processed += o.Processed
	c.Skipped += o.Skipped
	c.Partial += o.Partial
	c.Superseded += o.Superseded
	c.Failed += o.Failed
}

// Tally holds Counts for all ten kinds, including the ones no node of the
// run belonged to.
type Tally map[api.Kind]Counts

// NewTally returns a tally with a zero entry for every kind.
func NewTally() Tally {
	t := make(Tally, len(api.BottomUp()))
	for _, k := range api.BottomUp() {
		t[k] = Counts{}
	}
	return t
}

// Add records one outcome for kind k.
func (t Tally) Add(k api.Kind, o Outcome) {
	c := t[k]
	c.add(o)
	t[k] = c
}

// Total sums all kinds.
func (t Tally) Total() Counts {
	var total Counts
	for _, c := range t {
		total.merge(c)
	}
	return total
}

// Clone returns an independent copy.
func (t Tally) Clone() Tally {
	out := make(Tally, len(t))
	for k, c := range t {
		out[k] = c
	}
	return out
}
