package flipswitch

import (
	"context"

	"github.com/flipswitch/go-server-sdk/api"
	"github.com/open-feature/go-sdk/pkg/openfeature"
)

// FlipswitchProvider implements the FeatureProvider interface as a thin
// translation layer over the client's public operations. Evaluations read
// through the flag cache and fall back to a fetch on a miss; the realtime
// engine keeps the cache invalidated underneath.
type FlipswitchProvider struct {
	Client *Client
}

// Metadata returns the metadata of the provider
func (p FlipswitchProvider) Metadata() openfeature.Metadata {
	return openfeature.Metadata{Name: "flipswitch-go-provider"}
}

// BooleanEvaluation returns a boolean flag
func (p FlipswitchProvider) BooleanEvaluation(ctx context.Context, flag string, defaultValue bool, evalCtx openfeature.FlattenedContext) openfeature.BoolResolutionDetail {
	resolved, err := p.resolveFlag(ctx, flag, evalCtx)
	if err != nil {
		return openfeature.BoolResolutionDetail{
			Value: defaultValue,
			ProviderResolutionDetail: openfeature.ProviderResolutionDetail{
				ResolutionError: openfeature.NewGeneralResolutionError(err.Error()), Reason: openfeature.ErrorReason,
			},
		}
	}

	value, ok := resolved.Value.(bool)
	if !ok {
		return openfeature.BoolResolutionDetail{Value: defaultValue, ProviderResolutionDetail: openfeature.ProviderResolutionDetail{Reason: openfeature.DefaultReason}}
	}

	return openfeature.BoolResolutionDetail{Value: value, ProviderResolutionDetail: openfeature.ProviderResolutionDetail{Reason: openfeature.TargetingMatchReason}}
}

// StringEvaluation returns a string flag
func (p FlipswitchProvider) StringEvaluation(ctx context.Context, flag string, defaultValue string, evalCtx openfeature.FlattenedContext) openfeature.StringResolutionDetail {
	resolved, err := p.resolveFlag(ctx, flag, evalCtx)
	if err != nil {
		return openfeature.StringResolutionDetail{
			Value: defaultValue,
			ProviderResolutionDetail: openfeature.ProviderResolutionDetail{
				ResolutionError: openfeature.NewGeneralResolutionError(err.Error()), Reason: openfeature.ErrorReason,
			},
		}
	}

	value, ok := resolved.Value.(string)
	if !ok {
		return openfeature.StringResolutionDetail{Value: defaultValue, ProviderResolutionDetail: openfeature.ProviderResolutionDetail{Reason: openfeature.DefaultReason}}
	}

	return openfeature.StringResolutionDetail{Value: value, ProviderResolutionDetail: openfeature.ProviderResolutionDetail{Reason: openfeature.TargetingMatchReason}}
}

// FloatEvaluation returns a float flag
func (p FlipswitchProvider) FloatEvaluation(ctx context.Context, flag string, defaultValue float64, evalCtx openfeature.FlattenedContext) openfeature.FloatResolutionDetail {
	resolved, err := p.resolveFlag(ctx, flag, evalCtx)
	if err != nil {
		return openfeature.FloatResolutionDetail{
			Value: defaultValue,
			ProviderResolutionDetail: openfeature.ProviderResolutionDetail{
				ResolutionError: openfeature.NewGeneralResolutionError(err.Error()), Reason: openfeature.ErrorReason,
			},
		}
	}

	value, ok := resolved.Value.(float64)
	if !ok {
		return openfeature.FloatResolutionDetail{Value: defaultValue, ProviderResolutionDetail: openfeature.ProviderResolutionDetail{Reason: openfeature.DefaultReason}}
	}

	return openfeature.FloatResolutionDetail{Value: value, ProviderResolutionDetail: openfeature.ProviderResolutionDetail{Reason: openfeature.TargetingMatchReason}}
}

// IntEvaluation returns an int flag
func (p FlipswitchProvider) IntEvaluation(ctx context.Context, flag string, defaultValue int64, evalCtx openfeature.FlattenedContext) openfeature.IntResolutionDetail {
	resolved, err := p.resolveFlag(ctx, flag, evalCtx)
	if err != nil {
		return openfeature.IntResolutionDetail{
			Value: defaultValue,
			ProviderResolutionDetail: openfeature.ProviderResolutionDetail{
				ResolutionError: openfeature.NewGeneralResolutionError(err.Error()), Reason: openfeature.ErrorReason,
			},
		}
	}

	value, ok := intValue(resolved.Value)
	if !ok {
		return openfeature.IntResolutionDetail{Value: defaultValue, ProviderResolutionDetail: openfeature.ProviderResolutionDetail{Reason: openfeature.DefaultReason}}
	}

	return openfeature.IntResolutionDetail{Value: value, ProviderResolutionDetail: openfeature.ProviderResolutionDetail{Reason: openfeature.TargetingMatchReason}}
}

// ObjectEvaluation returns an object flag
func (p FlipswitchProvider) ObjectEvaluation(ctx context.Context, flag string, defaultValue interface{}, evalCtx openfeature.FlattenedContext) openfeature.InterfaceResolutionDetail {
	resolved, err := p.resolveFlag(ctx, flag, evalCtx)
	if err != nil {
		return openfeature.InterfaceResolutionDetail{
			Value: defaultValue,
			ProviderResolutionDetail: openfeature.ProviderResolutionDetail{
				ResolutionError: openfeature.NewGeneralResolutionError(err.Error()), Reason: openfeature.ErrorReason,
			},
		}
	}

	if resolved.Value == nil {
		return openfeature.InterfaceResolutionDetail{Value: defaultValue, ProviderResolutionDetail: openfeature.ProviderResolutionDetail{Reason: openfeature.DefaultReason}}
	}

	return openfeature.InterfaceResolutionDetail{Value: resolved.Value, ProviderResolutionDetail: openfeature.ProviderResolutionDetail{Reason: openfeature.TargetingMatchReason}}
}

// Hooks returns hooks
func (p FlipswitchProvider) Hooks() []openfeature.Hook {
	return []openfeature.Hook{}
}

func (p FlipswitchProvider) resolveFlag(ctx context.Context, flag string, evalCtx openfeature.FlattenedContext) (api.Flag, error) {
	if cached, found := p.Client.Cache().Get(flag); found {
		if f, ok := cached.(api.Flag); ok {
			return f, nil
		}
	}
	return p.Client.Flags.FetchFlag(ctx, flag, api.EvaluationContext(evalCtx))
}

// intValue normalizes the JSON number representations an evaluation response
// may carry into an int64, rejecting non-integral values.
func intValue(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}
