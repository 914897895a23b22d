package problem

import "time"

// Seed returns the built-in problem set used to bootstrap a fresh instance,
// so that a dev server is playable before any problems are authored.
func Seed() []Problem {
	return []Problem{
		{
			ID:         "two-sum",
			Title:      "Two Sum",
			Statement:  "Given an array of integers and a target, output the indices of the two numbers adding up to the target.",
			Difficulty: Easy,
			Constraints: []string{
				"2 <= n <= 10^4",
				"exactly one solution exists",
			},
			Examples: []Example{
				{Input: "4 9\n2 7 11 15", Output: "0 1", Explanation: "2 + 7 == 9"},
			},
			TestCases: []TestCase{
				{Input: "4 9\n2 7 11 15", ExpectedOutput: "0 1"},
				{Input: "3 6\n3 2 4", ExpectedOutput: "1 2"},
				{Input: "2 6\n3 3", ExpectedOutput: "0 1", Hidden: true},
				{Input: "5 0\n-2 1 4 -3 5", ExpectedOutput: "1 3", Hidden: true},
				{Input: "6 10\n1 2 3 4 5 6", ExpectedOutput: "3 5", Hidden: true},
			},
			IdealTime:   10 * time.Minute,
			TimeLimit:   30 * time.Minute,
			MemoryLimit: 256 << 20,
		},
		{
			ID:         "balanced-brackets",
			Title:      "Balanced Brackets",
			Statement:  "Given a string of brackets, output YES if it is balanced and NO otherwise.",
			Difficulty: Easy,
			Constraints: []string{
				"1 <= |s| <= 10^5",
			},
			Examples: []Example{
				{Input: "([]{})", Output: "YES"},
				{Input: "([)]", Output: "NO"},
			},
			TestCases: []TestCase{
				{Input: "([]{})", ExpectedOutput: "YES"},
				{Input: "([)]", ExpectedOutput: "NO"},
				{Input: "(", ExpectedOutput: "NO", Hidden: true},
				{Input: "{{[[(())]]}}", ExpectedOutput: "YES", Hidden: true},
			},
			IdealTime:   8 * time.Minute,
			TimeLimit:   25 * time.Minute,
			MemoryLimit: 256 << 20,
		},
		{
			ID:         "longest-increasing-run",
			Title:      "Longest Increasing Run",
			Statement:  "Output the length of the longest strictly increasing contiguous run in the array.",
			Difficulty: Medium,
			Constraints: []string{
				"1 <= n <= 10^5",
			},
			Examples: []Example{
				{Input: "6\n1 2 2 3 4 1", Output: "3", Explanation: "2 3 4"},
			},
			TestCases: []TestCase{
				{Input: "6\n1 2 2 3 4 1", ExpectedOutput: "3"},
				{Input: "1\n7", ExpectedOutput: "1"},
				{Input: "5\n5 4 3 2 1", ExpectedOutput: "1", Hidden: true},
				{Input: "5\n1 2 3 4 5", ExpectedOutput: "5", Hidden: true},
			},
			IdealTime:   15 * time.Minute,
			TimeLimit:   40 * time.Minute,
			MemoryLimit: 256 << 20,
		},
	}
}
