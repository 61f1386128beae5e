package services

import (
	"math"
	"sort"
)

type ScoringService struct{}

func NewScoringService() *ScoringService {
	return &ScoringService{}
}

// GradeTally is one user's final correctness count for a completed session.
type GradeTally struct {
	UserID         uint    `json:"user_id"`
	Answered       int     `json:"answered"`
	Correct        int     `json:"correct"`
	Late           int     `json:"late"`
	TotalQuestions int     `json:"total_questions"`
	Score          float64 `json:"score"`
}

type tallyRow struct {
	UserID   uint
	Answered int
	Correct  int
	Late     int
}

// Tally turns per-user aggregates into percentage scores over the questions
// that were actually presented.
func (s *ScoringService) Tally(rows []tallyRow, totalQuestions int) []GradeTally {
	tallies := make([]GradeTally, 0, len(rows))
	for _, r := range rows {
		tallies = append(tallies, GradeTally{
			UserID:         r.UserID,
			Answered:       r.Answered,
			Correct:        r.Correct,
			Late:           r.Late,
			TotalQuestions: totalQuestions,
			Score:          percent(r.Correct, totalQuestions),
		})
	}

	sort.Slice(tallies, func(a, b int) bool {
		return tallies[a].UserID < tallies[b].UserID
	})
	return tallies
}

// Average is the mean score across tallies, 0 when there are none.
func (s *ScoringService) Average(tallies []GradeTally) float64 {
	if len(tallies) == 0 {
		return 0
	}
	var sum float64
	for _, t := range tallies {
		sum += t.Score
	}
	return round2(sum / float64(len(tallies)))
}

func percent(n, of int) float64 {
	if of <= 0 {
		return 0
	}
	return round2(float64(n) * 100 / float64(of))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
