package parser

import (
	"strings"

	"EduPipeline/internal/config"
	"EduPipeline/internal/extractor"
)

// NewRegistry builds every built-in extractor and the configured feed collectors.
func NewRegistry(deps Deps, sources config.SourcesConfig) *extractor.Registry {
	deps = deps.withDefaults()

	var wiki WikiClient
	if sources.WikiAPI != "" {
		wiki = NewMediaWiki(deps.HTTP, func(lang string) string {
			return strings.ReplaceAll(sources.WikiAPI, "{lang}", lang)
		})
	}

	reg := extractor.NewRegistry(
		NewOpenAlex(deps, sources.OpenAlexURL),
		NewHAL(deps, sources.HALURL),
		NewOAPEN(deps, sources.OAPENURL),
		NewUNESDOC(deps),
		NewWikipedia(deps, wiki),
		NewPLOS(deps),
		NewPeerJ(deps),
		NewOpenEdition(deps),
		NewUNCCeLearn(deps),
	)

	for _, spec := range toDumpSpecs(sources.Dumps) {
		reg.Register(NewDump(deps, spec))
	}
	for _, feed := range sources.Feeds {
		reg.RegisterCollector(NewFeed(deps, FeedSpec{Corpus: feed.Corpus, URLs: feed.URLs}))
	}

	deps.Logger.Debug("extractor registry ready", "corpora", len(reg.Corpora()), "feeds", len(sources.Feeds))
	return reg
}

func toDumpSpecs(cfg []config.DumpConfig) []DumpSpec {
	if len(cfg) == 0 {
		return DefaultDumps()
	}
	specs := make([]DumpSpec, 0, len(cfg))
	for _, d := range cfg {
		specs = append(specs, DumpSpec{
			Corpus:    d.Corpus,
			File:      d.File,
			Columns:   d.Columns,
			Details:   d.Details,
			Lists:     d.Lists,
			Lang:      d.Lang,
			XMLColumn: d.XMLColumn,
		})
	}
	return specs
}
