package featureflags

import (
	"context"

	"incentive-pipeline/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

// FeatureFlag resolves a flag for one identity. Campaign ids are used as
// identities so a single campaign can be switched off without a deploy.
type FeatureFlag interface {
	Enabled(ctx context.Context, identifier, feature string) (bool, error)
}

type identityFlags interface {
	GetIdentityFlags(identifier string, traits []*flagsmith.Trait) (flagsmith.Flags, error)
}

type featureflag struct {
	client identityFlags
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

// ProvideFeatureFlag returns nil when no flagsmith key is configured;
// callers treat a nil FeatureFlag as every feature enabled.
func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return nil
	}

	opts := []flagsmith.Option{
		flagsmith.WithAnalytics(),
	}
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

func (s *featureflag) Enabled(ctx context.Context, identifier, feature string) (bool, error) {
	flags, err := s.client.GetIdentityFlags(identifier, nil)
	if err != nil {
		return false, err
	}
	return flags.IsFeatureEnabled(feature)
}
