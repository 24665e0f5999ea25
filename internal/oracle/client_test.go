package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/macropool/internal/domain"
)

func TestInputsForFetchesBothSources(t *testing.T) {
	macro := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/readings/CPI", r.URL.Path)
		w.Write([]byte(`{"indicator":"CPI","actual":3.35,"volatility_pct":2.4}`))
	}))
	defer macro.Close()

	price := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/price", r.URL.Path)
		w.Write([]byte(`{"symbol":"BTCUSDT","price":45250.5}`))
	}))
	defer price.Close()

	client := NewClient(macro.URL, price.URL, time.Second)
	inputs, err := client.InputsFor(context.Background(), domain.Event{Type: domain.EventTypeCPI})
	require.NoError(t, err)

	require.NotNil(t, inputs.VolatilityPct)
	assert.Equal(t, 2.4, *inputs.VolatilityPct)
	require.NotNil(t, inputs.SamplePrice)
	assert.Equal(t, 45250.5, *inputs.SamplePrice)
}

func TestInputsForUnconfiguredSourcesAreNil(t *testing.T) {
	client := NewClient("", "", time.Second)
	inputs, err := client.InputsFor(context.Background(), domain.Event{Type: domain.EventTypeNFP})
	require.NoError(t, err)
	assert.Nil(t, inputs.VolatilityPct)
	assert.Nil(t, inputs.SamplePrice)
}

func TestLatestReadingBeforeRelease(t *testing.T) {
	macro := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"indicator":"NFP","actual":null,"volatility_pct":null}`))
	}))
	defer macro.Close()

	client := NewClient(macro.URL, "", time.Second)
	actual, err := client.LatestReading(context.Background(), domain.EventTypeNFP)
	require.NoError(t, err)
	assert.Nil(t, actual)
}

func TestOutcomeFor(t *testing.T) {
	t.Run("released value", func(t *testing.T) {
		macro := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"indicator":"CPI","actual":3.35}`))
		}))
		defer macro.Close()

		client := NewClient(macro.URL, "", time.Second)
		value, err := client.OutcomeFor(context.Background(), domain.Event{Type: domain.EventTypeCPI})
		require.NoError(t, err)
		require.NotNil(t, value)
		assert.Equal(t, 3.35, *value)
	})

	t.Run("unconfigured source yields nil", func(t *testing.T) {
		client := NewClient("", "", time.Second)
		value, err := client.OutcomeFor(context.Background(), domain.Event{Type: domain.EventTypeCPI})
		require.NoError(t, err)
		assert.Nil(t, value)
	})
}

func TestDoGetSurfacesHTTPErrors(t *testing.T) {
	macro := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer macro.Close()

	client := NewClient(macro.URL, "", time.Second)
	_, err := client.LatestReading(context.Background(), domain.EventTypeGDP)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
