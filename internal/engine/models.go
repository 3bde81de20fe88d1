package engine

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/observability"
	"github.com/davidbz/conduit/internal/pricing"
	"github.com/davidbz/conduit/internal/transport"
)

// GetModels fetches the provider catalog and enriches every model with
// its price entry. A model without one is a *domain.LookupError unless
// the quality filter allows unknown models, which are then returned
// unpriced at zero cost. Local services are always zero cost.
func (e *Engine) GetModels(ctx context.Context, overrides ...domain.Options) ([]domain.Model, error) {
	opts := e.resolve(false, overrides)
	models, err := e.catalog(ctx, opts)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Model, 0, len(models))
	for _, model := range models {
		enriched, ok := e.enrich(model, opts.QualityFilter)
		if !ok {
			if !opts.QualityFilter.AllowUnknown {
				return nil, &domain.LookupError{Service: opts.Service, Model: model.Model}
			}
			enriched = model
			enriched.Unpriced = true
		}
		out = append(out, enriched)
	}
	return out, nil
}

// GetQualityModels returns the priced catalog models suitable for general
// chat. Price lookups accept similar names; unpriced models are skipped.
func (e *Engine) GetQualityModels(ctx context.Context, overrides ...domain.Options) ([]domain.Model, error) {
	opts := e.resolve(false, overrides)
	models, err := e.catalog(ctx, opts)
	if err != nil {
		return nil, err
	}

	filter := opts.QualityFilter
	filter.AllowSimilar = true

	out := make([]domain.Model, 0, len(models))
	for _, model := range models {
		if !e.adapter.FilterQualityModel(model) {
			continue
		}
		enriched, ok := e.enrich(model, filter)
		if !ok {
			continue
		}
		out = append(out, enriched)
	}
	return out, nil
}

// catalog fetches and normalizes the raw model list, sorted by id.
func (e *Engine) catalog(ctx context.Context, opts domain.Options) ([]domain.Model, error) {
	callCtx, cancel := e.callContext(observability.WithCall(ctx, opts.Service, ""))
	defer cancel()

	req, path, err := e.adapter.ModelsRequest(opts.Clone())
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(callCtx, opts.Service, req, e.adapter.ParseError)
	if err != nil {
		return nil, err
	}
	body, err := transport.ReadAll(callCtx, opts.Service, resp)
	if err != nil {
		return nil, err
	}

	records := gjson.GetBytes(body, path)
	if !records.IsArray() {
		return nil, &domain.DecodeError{Message: "model list not found at " + path, Data: body}
	}

	var models []domain.Model
	records.ForEach(func(_, record gjson.Result) bool {
		model := e.adapter.ParseModel(json.RawMessage(record.Raw))
		if model.Model != "" {
			models = append(models, model)
		}
		return true
	})
	slices.SortFunc(models, func(a, b domain.Model) int {
		return strings.Compare(a.Model, b.Model)
	})

	observability.FromContext(callCtx).Debug("catalog fetched", observability.Int("models", len(models)))
	return models, nil
}

// enrich copies limits and prices from the table onto model.
func (e *Engine) enrich(model domain.Model, filter domain.QualityFilter) (domain.Model, bool) {
	if e.adapter.Local() {
		return model, true
	}

	entry, ok := e.table.Get(e.adapter.Service(), model.Model, filter)
	if !ok {
		return model, false
	}

	model.MaxTokens = entry.MaxTokens
	if entry.MaxInputTokens > 0 {
		model.MaxInputTokens = entry.MaxInputTokens
	}
	if entry.MaxOutputTokens > 0 {
		model.MaxOutputTokens = entry.MaxOutputTokens
	}
	model.InputCostPerToken = entry.InputCostPerToken
	model.OutputCostPerToken = entry.OutputCostPerToken
	model.OutputCostPerReasoningToken = entry.OutputCostPerReasoningToken
	model.SupportsReasoning = model.SupportsReasoning || entry.SupportsReasoning
	model.Modalities = slices.Clone(entry.SupportedModalities)
	return model, true
}

// PriceEntry resolves the price entry of the configured model.
func (e *Engine) PriceEntry(filter domain.QualityFilter) (*pricing.Entry, bool) {
	return e.table.Get(e.adapter.Service(), e.options.Model, filter)
}
