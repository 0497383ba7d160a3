package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewCFT_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewCFT(reg)
	require.NoError(t, err)
	require.NotNil(t, m)

	m.Term.Set(4)
	m.VotesGranted.Inc()

	_, err = NewCFT(reg)
	require.Error(t, err, "registering a second CFT set on the same registry must collide")
}

func TestNewBFT_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewBFT(reg)
	require.NoError(t, err)
	require.NotNil(t, m)

	m.View.Set(2)
	m.ViewChanges.Inc()

	_, err = NewBFT(reg)
	require.Error(t, err)
}

func TestCFTAndBFT_DistinctRegistries(t *testing.T) {
	cftReg := prometheus.NewRegistry()
	bftReg := prometheus.NewRegistry()

	_, err := NewCFT(cftReg)
	require.NoError(t, err)
	_, err = NewBFT(bftReg)
	require.NoError(t, err)
}
