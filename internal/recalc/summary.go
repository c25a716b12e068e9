package recalc

import (
	"time"

	"github.com/kerfworks/kerf/api"
	"github.com/kerfworks/kerf/internal/batch"
)

// MaxFailureSample bounds the failures kept in a Summary.
const MaxFailureSample = 100

// Failure records one node that could not be recalculated.
type Failure struct {
	Ref   string `json:"ref"`
	Error string `json:"error"`
}

// Summary is the outcome of one Run.
type Summary struct {
	Scope    string      `json:"scope"`
	Force    bool        `json:"force"`
	Started  time.Time   `json:"started"`
	Finished time.Time   `json:"finished"`
	Kinds    batch.Tally `json:"kinds"`
	// Failures holds at most MaxFailureSample entries; Failed() has the total.
	Failures []Failure `json:"failures,omitempty"`
}

// Processed returns the processed count for kind k.
func (s *Summary) Processed(k api.Kind) int {
	return s.Kinds[k].Processed
}

// Failed returns the number of nodes that failed across all kinds.
func (s *Summary) Failed() int {
	return s.Kinds.Total().Failed
}

// HasFailures reports whether any node failed.
func (s *Summary) HasFailures() bool {
	return s.Failed() > 0
}

// Duration is the wall time of the run.
func (s *Summary) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}

func (s *Summary) addFailure(ref string, err error) {
	if len(s.Failures) < MaxFailureSample {
		s.Failures = append(s.Failures, Failure{Ref: ref, Error: err.Error()})
	}
}
