package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickerPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		assert.Equal(t, `["BTCUSDT","ETHUSDT"]`, r.URL.Query().Get("symbols"))
		w.Write([]byte(`[{"symbol":"BTCUSDT","price":"64123.45000000"},{"symbol":"ETHUSDT","price":"3101.10"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	got, err := c.TickerPrices(context.Background(), []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "64123.45", got[0].Price.String())
	assert.Equal(t, "ETHUSDT", got[1].Symbol)
}

func TestKlinesParsesDecimalStrings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1700000000000,"100.5","110","95","105.25","12.5",1700000059999,"1300.1",42,"1","2","0"]]`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, 0).Klines(context.Background(), "BTCUSDT", "1m", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "105.25", got[0].Close.String())
	assert.Equal(t, 42, got[0].NumberOfTrades)
	assert.Equal(t, int64(1700000000000), got[0].OpenTime)
}

func TestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 0).TickerPrices(context.Background(), []string{"NOPEUSDT"})
	assert.ErrorContains(t, err, "status 400")
}
