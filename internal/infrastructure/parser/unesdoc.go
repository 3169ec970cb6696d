package parser

import (
	"context"
	"fmt"

	"EduPipeline/internal/domain"
	"EduPipeline/internal/extractor"
)

const unesdocCorpus = "unesdoc"

// UNESDOC is registered so its references resolve, but extraction is not
// implemented: every reference is rejected and recorded.
type UNESDOC struct {
	deps Deps
}

var _ extractor.Extractor = (*UNESDOC)(nil)

func NewUNESDOC(deps Deps) *UNESDOC {
	return &UNESDOC{deps: deps.withDefaults()}
}

func (u *UNESDOC) RelatedCorpus() string      { return unesdocCorpus }
func (u *UNESDOC) Variant() extractor.Variant { return extractor.VariantREST }

func (u *UNESDOC) Run(_ context.Context, refs []domain.Document) []domain.Result {
	if len(refs) > 0 {
		u.deps.Logger.Warn("unesdoc extraction not implemented", "references", len(refs))
	}
	results := make([]domain.Result, len(refs))
	for i, ref := range refs {
		results[i] = domain.RejectedErr(ref, fmt.Errorf("%w: extraction not implemented", domain.ErrSchemaMismatch))
	}
	return results
}
