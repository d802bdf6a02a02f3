package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/rootchain/rootchain-app/config"
	"github.com/compose-network/rootchain/x/asset"
)

func testAppConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.API.ListenAddr = "127.0.0.1:0"
	cfg.Journal.Path = filepath.Join(t.TempDir(), "events")
	cfg.Assets.Tokens = []string{"0x00000000000000000000000000000000000070ce"}
	cfg.Assets.Balances = []config.BalanceConfig{
		{Account: "0x0000000000000000000000000000000000001001", Amount: "500"},
		{Asset: "0x00000000000000000000000000000000000070ce", Account: "0x0000000000000000000000000000000000001001", Amount: "7"},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewApp_Wiring(t *testing.T) {
	t.Parallel()

	app, err := NewApp(t.Context(), testAppConfig(t), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.runShutdownFns() })

	require.NotNil(t, app.ledger)
	require.NotNil(t, app.journal)
	require.NotNil(t, app.finalizer)

	tests := []struct {
		path   string
		status int
	}{
		{"/health", http.StatusOK},
		{"/stats", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/v1/rootchain/stats", http.StatusOK},
		{"/v1/rootchain/forks/current", http.StatusOK},
		{"/v1/rootchain/events", http.StatusOK},
		{"/v1/rootchain/forks/3", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		app.apiServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.status, rec.Code, tt.path)
	}

	rec := httptest.NewRecorder()
	app.apiServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	var stats map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, app.instanceID, stats["instance_id"])
}

func TestBuildAssets_OpeningBalances(t *testing.T) {
	t.Parallel()

	app := &App{cfg: testAppConfig(t), log: zerolog.Nop()}
	reg, err := app.buildAssets()
	require.NoError(t, err)

	who := common.HexToAddress("0x0000000000000000000000000000000000001001")
	native, err := reg.Asset(asset.NativeAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), native.BalanceOf(who).Uint64())

	token, err := reg.Asset(common.HexToAddress("0x00000000000000000000000000000000000070ce"))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), token.BalanceOf(who).Uint64())
}

func TestBuildAssets_UnknownAsset(t *testing.T) {
	t.Parallel()

	cfg := testAppConfig(t)
	cfg.Assets.Tokens = nil
	app := &App{cfg: cfg, log: zerolog.Nop()}
	_, err := app.buildAssets()
	require.Error(t, err)
}
