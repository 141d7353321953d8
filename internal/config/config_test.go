package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadDimension(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VectorDimensions = 0
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownMetricAndAlgorithm(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VectorDistanceMetric = "HAMMING"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.VectorAlgorithm = "IVF"
	require.Error(t, cfg.Validate())
}

func TestContextRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), &cfg)
	require.Same(t, &cfg, FromContext(ctx))
	require.Nil(t, FromContext(context.Background()))
}
