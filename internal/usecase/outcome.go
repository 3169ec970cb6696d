package usecase

import (
	"context"
	"time"

	"EduPipeline/internal/domain"
)

// Batch is one loaded chunk handed to a stage. Documents are already filtered to
// those whose current state the stage accepts.
type Batch struct {
	Documents []domain.Document
	Latest    map[int64]domain.ProcessState
	Corpora   map[int64]domain.Corpus
}

// Stage processes a batch and reports one outcome per document it touched.
type Stage interface {
	Name() domain.Stage
	// Process returns an error only when the whole batch cannot proceed.
	Process(ctx context.Context, batch Batch) ([]Outcome, error)
}

// Outcome is everything a stage wants persisted for one document.
type Outcome struct {
	DocumentID int64
	// Document, when set, replaces the stored document fields.
	Document *domain.Document

	// ReplaceSlices deletes every stored slice of the document before inserting Slices.
	ReplaceSlices bool
	Slices        []domain.Slice

	// SdgSliceIDs are the slices whose goal rows are deleted before inserting Sdgs.
	SdgSliceIDs []int64
	Sdgs        []domain.Sdg

	// ReplaceKeywords swaps the document's keyword associations for Keywords.
	ReplaceKeywords bool
	Keywords        []string

	Errors []domain.ErrorRetrieval
	State  *domain.Step
}

func stepPtr(s domain.Step) *domain.Step {
	return &s
}

func advance(id int64, step domain.Step) Outcome {
	return Outcome{DocumentID: id, State: stepPtr(step)}
}

// failure records rej for the document. Content deficiencies mark it invalid, a
// missing model keeps it for trace and a vanished indexed source is irretrievable.
func failure(id int64, rej domain.Rejection, current domain.Step, now time.Time) Outcome {
	out := Outcome{DocumentID: id, Errors: []domain.ErrorRetrieval{rej.Record(id, now)}}
	switch {
	case rej.Kind == domain.KindContentDeficiency:
		out.State = stepPtr(domain.StepInvalid)
	case rej.Kind == domain.KindModelUnavailable:
		out.State = stepPtr(domain.StepKeptForTrace)
	case rej.Gone() && current == domain.StepInQdrant:
		out.State = stepPtr(domain.StepIrretrievable)
	}
	return out
}

func byID(docs []domain.Document) map[int64]domain.Document {
	out := make(map[int64]domain.Document, len(docs))
	for _, d := range docs {
		out[d.ID] = d
	}
	return out
}

func docIDs(docs []domain.Document) []int64 {
	ids := make([]int64, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}

func slicesByDocument(slices []domain.Slice) map[int64][]domain.Slice {
	out := map[int64][]domain.Slice{}
	for _, s := range slices {
		out[s.DocumentID] = append(out[s.DocumentID], s)
	}
	return out
}

func modelTitled(models []domain.Model, title string) (domain.Model, bool) {
	for _, m := range models {
		if m.Title == title {
			return m, true
		}
	}
	return domain.Model{}, false
}
