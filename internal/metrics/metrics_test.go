package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	m := New()
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestCountersIncrement(t *testing.T) {
	m := New()
	m.PoolsMissingVault.Inc()
	m.BuildErrors.WithLabelValues("over_size").Inc()
	m.SendFailed.WithLabelValues("timeout").Inc()

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
