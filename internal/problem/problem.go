// Package problem defines the problems players battle on. Problems are
// read-only for the match engine: authoring and curation happen elsewhere.
package problem

import (
	"fmt"
	"time"

	"github.com/codebattle/arena/internal/scoring"
)

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

func (d Difficulty) Valid() bool {
	switch d {
	case Easy, Medium, Hard:
		return true
	default:
		return false
	}
}

type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	// Hidden cases are judged but never shown to players.
	Hidden bool `json:"hidden"`
}

type Example struct {
	Input       string `json:"input"`
	Output      string `json:"output"`
	Explanation string `json:"explanation,omitempty"`
}

type Problem struct {
	ID          string     `gorm:"primaryKey" json:"id"`
	Title       string     `json:"title"`
	Statement   string     `json:"statement"`
	Difficulty  Difficulty `json:"difficulty"`
	Constraints []string   `gorm:"serializer:json" json:"constraints,omitempty"`
	Examples    []Example  `gorm:"serializer:json" json:"examples,omitempty"`
	TestCases   []TestCase `gorm:"serializer:json" json:"-"`
	// IdealTime is the solve time granting full time-efficiency score,
	// TimeLimit the hard deadline of the match.
	IdealTime   time.Duration `json:"ideal_time"`
	TimeLimit   time.Duration `json:"time_limit"`
	MemoryLimit int64         `json:"memory_limit"`
}

func (p *Problem) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("no problem id")
	}
	if p.Title == "" {
		return fmt.Errorf("no problem title")
	}
	if !p.Difficulty.Valid() {
		return fmt.Errorf("bad difficulty %q", p.Difficulty)
	}
	if len(p.TestCases) == 0 {
		return fmt.Errorf("no test cases")
	}
	if p.IdealTime <= 0 || p.TimeLimit <= 0 {
		return fmt.Errorf("non-positive timing limits")
	}
	if p.TimeLimit < p.IdealTime {
		return fmt.Errorf("time limit below ideal time")
	}
	return nil
}

func (p *Problem) Limits() scoring.Limits {
	return scoring.Limits{IdealTime: p.IdealTime, TimeLimit: p.TimeLimit}
}

// Public strips hidden test cases, for snapshots sent to clients.
func (p *Problem) Public() Problem {
	res := *p
	res.TestCases = nil
	for _, tc := range p.TestCases {
		if !tc.Hidden {
			res.TestCases = append(res.TestCases, tc)
		}
	}
	return res
}
