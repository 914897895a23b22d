package judge

import (
	"context"
	"hash/fnv"
	"strings"
	"time"

	"github.com/codebattle/arena/internal/problem"
)

// Local is a stand-in oracle for development instances without a judging
// service. It does not execute anything: verdicts are derived deterministically
// from the submission text, so repeated submissions of the same code judge the
// same way.
type Local struct{}

func NewLocal() Oracle { return Local{} }

func (Local) Judge(ctx context.Context, p *problem.Problem, sub Submission) (Verdict, error) {
	select {
	case <-ctx.Done():
		return Verdict{}, ctx.Err()
	default:
	}
	total := len(p.TestCases)
	code := strings.TrimSpace(sub.Code)
	if code == "" {
		return Verdict{Compiled: false, TotalTests: total}, nil
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(p.ID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(code))
	sum := h.Sum64()
	// Most non-empty code "compiles"; a sliver fails to keep that path
	// reachable in dev.
	if sum%17 == 0 {
		return Verdict{Compiled: false, TotalTests: total}, nil
	}
	passed := int(sum % uint64(total+1))
	// A submission mentioning the problem id passes everything, which gives
	// dev clients a reliable way to drive a full-score run.
	if strings.Contains(code, p.ID) {
		passed = total
	}
	return Verdict{
		Compiled:    true,
		TestsPassed: passed,
		TotalTests:  total,
		ExecTime:    time.Duration(50+sum%200) * time.Millisecond,
		Memory:      int64(10+sum%90) << 20,
	}, nil
}
