package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestPatchConfig(t *testing.T) {
	t.Parallel()

	root := common.HexToHash("0xabc")
	tests := []struct {
		name string
		in   string
	}{
		{name: "existing key", in: "log:\n  level: info\nrootchain:\n  nre_length: 2\n  genesis_state_root: \"\"\n"},
		{name: "missing key", in: "rootchain:\n  nre_length: 2\n"},
		{name: "empty section", in: "rootchain:\n"},
		{name: "missing section", in: "log:\n  level: info\n"},
		{name: "empty file", in: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.in), 0o644))
			require.NoError(t, patchConfig(path, root))

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			var out struct {
				Rootchain map[string]any `yaml:"rootchain"`
			}
			require.NoError(t, yaml.Unmarshal(raw, &out))
			assert.Equal(t, root.Hex(), out.Rootchain["genesis_state_root"])
		})
	}
}

func TestStateRoot_RequiresAlloc(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "genesis.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"config":{"chainId":1},"alloc":{}}`), 0o644))
	_, err := stateRoot(path)
	require.Error(t, err)
}
