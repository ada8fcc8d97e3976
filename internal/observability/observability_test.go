package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupTracing_Disabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, span := Tracer.Start(context.Background(), "noop")
	span.End()
}

func TestResolutionsTotal(t *testing.T) {
	before := testutil.ToFloat64(ResolutionsTotal.WithLabelValues("resolved"))
	ResolutionsTotal.WithLabelValues("resolved").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ResolutionsTotal.WithLabelValues("resolved")))
}
