package signals

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadNetworkScoresCSV(t *testing.T) {
	in := "network_risk_score,user_id\n0.97, user_101\n0.1,user_7\n"
	store, err := LoadNetworkScoresCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	v, err := store.Score(context.Background(), "user_101")
	require.NoError(t, err)
	assert.Equal(t, 0.97, v)

	v, err = store.Score(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestLoadNetworkScoresCSV_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "header"},
		{"missing column", "user_id,score\nu,0.5\n", "columns"},
		{"not a number", "user_id,network_risk_score\nu,high\n", "line 2"},
		{"out of range", "user_id,network_risk_score\nu,0.5\nv,1.5\n", "line 3"},
		{"ragged row", "user_id,network_risk_score\nu\n", "line 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadNetworkScoresCSV(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadNetworkScoresFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.csv")
	require.NoError(t, os.WriteFile(path, []byte("user_id,network_risk_score\nuser_101,0.9\n"), 0o600))

	store, err := LoadNetworkScoresFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	_, err = LoadNetworkScoresFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestMemoryStore_CopiesSeed(t *testing.T) {
	seed := map[string]float64{"a": 0.5}
	store := NewMemoryStore(seed)
	seed["a"] = 0.9

	v, _ := store.Score(context.Background(), "a")
	assert.Equal(t, 0.5, v)
}
