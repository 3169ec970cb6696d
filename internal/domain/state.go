package domain

import "time"

// Step enumerates the append-only pipeline milestones of a document.
type Step string

const (
	StepURLRetrieved         Step = "url_retrieved"
	StepScraped              Step = "document_scraped"
	StepVectorized           Step = "document_vectorized"
	StepExternallyClassified Step = "document_externally_classified"
	StepClassifiedSDG        Step = "document_classified_sdg"
	StepClassifiedNonSDG     Step = "document_classified_non_sdg"
	StepWithKeywords         Step = "document_with_keywords"
	StepInQdrant             Step = "document_in_qdrant"
	StepInvalid              Step = "document_is_invalid"
	StepKeptForTrace         Step = "kept_for_trace"
	StepIrretrievable        Step = "document_is_irretrievable"
)

var knownSteps = map[Step]struct{}{
	StepURLRetrieved: {}, StepScraped: {}, StepVectorized: {}, StepExternallyClassified: {},
	StepClassifiedSDG: {}, StepClassifiedNonSDG: {}, StepWithKeywords: {}, StepInQdrant: {},
	StepInvalid: {}, StepKeptForTrace: {}, StepIrretrievable: {},
}

// Valid reports whether s is one of the declared steps.
func (s Step) Valid() bool {
	_, ok := knownSteps[s]
	return ok
}

// ProcessState is one transition row; the row with the highest OperationOrder is current.
type ProcessState struct {
	ID             int64
	DocumentID     int64
	Title          Step
	CreatedAt      time.Time
	OperationOrder int64
}

// Stage names a pipeline job driven by the coordinator.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageVectorize Stage = "vectorize"
	StageClassify  Stage = "classify"
	StageKeywords  Stage = "keywords"
	StageIndex     Stage = "index"
	StageSanitary  Stage = "sanitize"
)

// SanitaryMinAge is how long a document must have been indexed before it is re-probed.
const SanitaryMinAge = 2 * time.Hour

var eligibility = map[Stage][]Step{
	StageExtract:   {StepURLRetrieved},
	StageVectorize: {StepScraped},
	StageClassify:  {StepVectorized, StepExternallyClassified},
	StageKeywords:  {StepClassifiedSDG, StepClassifiedNonSDG},
	StageIndex:     {StepWithKeywords},
	StageSanitary:  {StepInQdrant},
}

// Stages lists every stage in pipeline order.
func Stages() []Stage {
	return []Stage{StageExtract, StageVectorize, StageClassify, StageKeywords, StageIndex, StageSanitary}
}

// ParseStage resolves a stage by name.
func ParseStage(name string) (Stage, bool) {
	st := Stage(name)
	_, ok := eligibility[st]
	return st, ok
}

// EligibleSteps returns the current states a stage accepts.
func (st Stage) EligibleSteps() []Step {
	steps := eligibility[st]
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}

// Accepts reports whether a document whose current state is step may enter the stage.
func (st Stage) Accepts(step Step) bool {
	for _, s := range eligibility[st] {
		if s == step {
			return true
		}
	}
	return false
}

// LatestStates reduces a state history to the current state of each document.
func LatestStates(states []ProcessState) map[int64]ProcessState {
	latest := make(map[int64]ProcessState, len(states))
	for _, st := range states {
		cur, ok := latest[st.DocumentID]
		if !ok || st.OperationOrder > cur.OperationOrder {
			latest[st.DocumentID] = st
		}
	}
	return latest
}
