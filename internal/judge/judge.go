// Package judge defines the contract with the code-execution oracle. The
// oracle itself is an external service: it receives a submission plus the
// problem's test cases and reports pass/fail per case along with execution
// telemetry. Sandboxing is entirely its concern.
package judge

import (
	"context"
	"errors"
	"time"

	"github.com/codebattle/arena/internal/problem"
)

// ErrTimeout is reported when the oracle did not answer within its deadline.
// The match engine degrades such submissions to a zero-score verdict instead
// of blocking finalization.
var ErrTimeout = errors.New("judge timed out")

type Submission struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// Verdict is the oracle's judgment of one submission. Exactly one verdict is
// produced per accepted submission.
type Verdict struct {
	Compiled    bool          `json:"compiled"`
	TestsPassed int           `json:"tests_passed"`
	TotalTests  int           `json:"total_tests"`
	ExecTime    time.Duration `json:"exec_time"`
	Memory      int64         `json:"memory"`
	// RefTime is the reference solution's run time, when the oracle
	// measures one. Zero means unavailable.
	RefTime time.Duration `json:"ref_time"`
}

func (v Verdict) Accepted() bool {
	return v.Compiled && v.TotalTests > 0 && v.TestsPassed == v.TotalTests
}

type Oracle interface {
	Judge(ctx context.Context, p *problem.Problem, sub Submission) (Verdict, error)
}

type Options struct {
	// Timeout bounds a single oracle call.
	Timeout time.Duration `toml:"timeout"`
}

func (o *Options) FillDefaults() {
	if o.Timeout == 0 {
		o.Timeout = 30 * time.Second
	}
}

// Call invokes the oracle under the configured timeout. On timeout it returns
// a failed verdict together with ErrTimeout, so callers always have a verdict
// to record.
func Call(ctx context.Context, oracle Oracle, o Options, p *problem.Problem, sub Submission) (Verdict, error) {
	o.FillDefaults()
	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()
	verdict, err := oracle.Judge(ctx, p, sub)
	if err != nil {
		failed := Verdict{TotalTests: len(p.TestCases)}
		if errors.Is(err, context.DeadlineExceeded) {
			return failed, ErrTimeout
		}
		return failed, err
	}
	return verdict, nil
}
