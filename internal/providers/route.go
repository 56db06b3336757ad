package providers

import (
	"time"

	"github.com/deathwalker/lorabridge/internal/catalog"
)

// CompletionModel distinguishes providers that answer in one round trip from
// those that hand back a job to poll.
type CompletionModel string

const (
	CompletionSynchronous CompletionModel = "synchronous"
	CompletionPolled      CompletionModel = "polled"
)

// OutputEncoding records how a provider delivers the finished image.
type OutputEncoding string

const (
	OutputInlineBinary OutputEncoding = "inline_binary"
	OutputFetchableURL OutputEncoding = "fetchable_url"
)

// Descriptor is the static capability record for one backend.
type Descriptor struct {
	Name            string
	Priority        int
	MaxAdapters     int
	CompletionModel CompletionModel
	OutputEncoding  OutputEncoding
	TimeoutBudget   time.Duration

	// InlineRefs marks backends that natively resolve name:id@version model
	// specs; every other backend has such adapters filtered out before the call.
	InlineRefs bool
}

// Route pairs a descriptor with its live adapter instance.
type Route struct {
	Descriptor Descriptor
	Image      ImageGenerator
}

// PruneAdapters applies the provider-level cap to an already role-capped
// selection: inline-spec filtering first when the backend cannot take them,
// then a system-wide lowest-rank trim to MaxAdapters. Role quotas are never
// re-applied here.
func (r Route) PruneAdapters(list []catalog.StyleAdapter) []catalog.StyleAdapter {
	if !r.Descriptor.InlineRefs {
		list = catalog.FilterInlineSpecs(list)
	}
	return catalog.PruneToLimit(list, r.Descriptor.MaxAdapters)
}
