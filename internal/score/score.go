// Package score ranks candidate riders by a weighted blend of proximity and
// current workload. The weights are policy, not law; they come from config.
package score

import (
	"context"
	"sort"

	"github.com/superjustkidding/fango/internal/models"
	"github.com/superjustkidding/fango/internal/storage"
)

const (
	DefaultDistanceWeight = 0.6
	DefaultLoadWeight     = 0.4
)

type Scorer struct {
	Assignments    storage.AssignmentStore
	DistanceWeight float64
	LoadWeight     float64
}

func NewScorer(assignments storage.AssignmentStore, distanceWeight, loadWeight float64) *Scorer {
	if distanceWeight <= 0 && loadWeight <= 0 {
		distanceWeight, loadWeight = DefaultDistanceWeight, DefaultLoadWeight
	}
	return &Scorer{Assignments: assignments, DistanceWeight: distanceWeight, LoadWeight: loadWeight}
}

// CurrentLoad counts the rider's accepted assignments whose order is still
// in flight. Pending offers do not count; see the load policy note in
// DESIGN.md.
func (s *Scorer) CurrentLoad(ctx context.Context, riderID string) (int, error) {
	return s.Assignments.ActiveLoad(ctx, riderID)
}

// Score blends distance and load into a single suitability value. Higher is
// better; strictly decreasing in both inputs.
func (s *Scorer) Score(distanceM float64, load int) float64 {
	distanceScore := 1.0 / (1.0 + distanceM/1000.0)
	loadScore := 1.0 / (1.0 + float64(load))
	return s.DistanceWeight*distanceScore + s.LoadWeight*loadScore
}

// Rank scores each candidate and orders them best first. Ties break on
// ascending rider id so ranking is deterministic.
func (s *Scorer) Rank(ctx context.Context, candidates []models.Candidate) ([]models.CandidateScore, error) {
	scored := make([]models.CandidateScore, 0, len(candidates))
	for _, c := range candidates {
		load, err := s.CurrentLoad(ctx, c.RiderID)
		if err != nil {
			return nil, err
		}
		scored = append(scored, models.CandidateScore{
			RiderID:    c.RiderID,
			DistanceM:  c.DistanceM,
			ActiveLoad: load,
			Score:      s.Score(c.DistanceM, load),
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].RiderID < scored[j].RiderID
	})
	return scored, nil
}
