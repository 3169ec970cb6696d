// Package sdg assigns Sustainable Development Goals to document slices.
package sdg

import (
	"context"
	"fmt"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/ports"
)

// SpecificThreshold is the probability a 17-class prediction must exceed.
const SpecificThreshold = 0.5

func embeddings(slices []domain.Slice) [][]float32 {
	out := make([][]float32, len(slices))
	for i, s := range slices {
		out[i] = s.Embedding
	}
	return out
}

// checkRows rejects a reply that does not carry one non-empty probability row per slice.
func checkRows(probs [][]float64, slices int) error {
	if len(probs) != slices {
		return fmt.Errorf("%w: %d probability rows for %d slices", domain.ErrModelUnavailable, len(probs), slices)
	}
	for i, row := range probs {
		if len(row) == 0 {
			return fmt.Errorf("%w: empty probability row for slice %d", domain.ErrModelUnavailable, i)
		}
	}
	return nil
}

// IsPositive runs the binary classifier over every slice; the document is about some
// goal when any slice's positive probability reaches threshold.
func IsPositive(ctx context.Context, bi ports.Classifier, slices []domain.Slice, threshold float64) (bool, error) {
	if len(slices) == 0 {
		return false, nil
	}
	probs, err := bi.PredictProba(ctx, embeddings(slices))
	if err != nil {
		return false, fmt.Errorf("binary classification: %w", err)
	}
	if err := checkRows(probs, len(slices)); err != nil {
		return false, fmt.Errorf("binary classification: %w", err)
	}
	for _, row := range probs {
		if row[len(row)-1] >= threshold {
			return true, nil
		}
	}
	return false, nil
}

// FromExternal labels every slice with every declared goal; the n-classifier is not involved.
func FromExternal(declared []int, slices []domain.Slice, biModelID int64) []domain.Sdg {
	var goals []int
	seen := map[int]struct{}{}
	for _, n := range declared {
		if !domain.ValidSdgNumber(n) {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		goals = append(goals, n)
	}

	out := make([]domain.Sdg, 0, len(goals)*len(slices))
	for _, s := range slices {
		for _, n := range goals {
			out = append(out, domain.Sdg{SliceID: s.ID, SdgNumber: n, BiClassifierModelID: biModelID})
		}
	}
	return out
}

// Specific runs the 17-class classifier and keeps, per slice, the best goal when its
// probability exceeds SpecificThreshold. forced restricts the search to those goals.
func Specific(ctx context.Context, n ports.Classifier, slices []domain.Slice, forced []int, biModelID, nModelID int64) ([]domain.Sdg, error) {
	if len(slices) == 0 {
		return nil, nil
	}
	probs, err := n.PredictProba(ctx, embeddings(slices))
	if err != nil {
		return nil, fmt.Errorf("sdg classification: %w", err)
	}
	if err := checkRows(probs, len(slices)); err != nil {
		return nil, fmt.Errorf("sdg classification: %w", err)
	}

	allowed := candidateGoals(forced)
	var out []domain.Sdg
	for i, row := range probs {
		best, bestP := 0, -1.0
		for _, goal := range allowed {
			if goal-1 >= len(row) {
				continue
			}
			if p := row[goal-1]; p > bestP {
				best, bestP = goal, p
			}
		}
		if best == 0 || bestP <= SpecificThreshold {
			continue
		}
		id := nModelID
		out = append(out, domain.Sdg{
			SliceID:             slices[i].ID,
			SdgNumber:           best,
			BiClassifierModelID: biModelID,
			NClassifierModelID:  &id,
		})
	}
	return out, nil
}

func candidateGoals(forced []int) []int {
	var out []int
	for _, n := range forced {
		if domain.ValidSdgNumber(n) {
			out = append(out, n)
		}
	}
	if len(out) > 0 {
		return out
	}
	out = make([]int, domain.SdgCount)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

// Dominant returns up to k goals ordered by how many rows carry them; ties keep the
// order of first appearance.
func Dominant(sdgs []domain.Sdg, k int) []int {
	counts := map[int]int{}
	var order []int
	for _, s := range sdgs {
		if _, ok := counts[s.SdgNumber]; !ok {
			order = append(order, s.SdgNumber)
		}
		counts[s.SdgNumber]++
	}

	ranked := make([]int, len(order))
	copy(ranked, order)
	// insertion sort keeps first-appearance order among equal counts
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && counts[ranked[j]] > counts[ranked[j-1]]; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}
