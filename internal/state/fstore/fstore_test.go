package fstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marquee-signage/marquee/internal/models"
	"github.com/marquee-signage/marquee/internal/state"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileCreatesInstallationID(t *testing.T) {
	require := require.New(t)
	s := New(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(s.Load())
	st := s.State()
	require.NotEmpty(st.InstallationID)
	require.False(st.Paired())
}

func TestUpdatePersistsAcrossRestart(t *testing.T) {
	require := require.New(t)
	file := filepath.Join(t.TempDir(), "nested", "state.json")

	s := New(file)
	require.NoError(s.Load())
	err := s.Update(func(st *state.State) {
		st.Identity = &models.DeviceIdentity{DisplayID: "D1", DeviceToken: "tok-1"}
		st.LastKnownGood = &models.ResolvedConfig{Playlist: &models.Playlist{ID: "p1"}}
	})
	require.NoError(err)
	installationID := s.State().InstallationID

	_, err = os.Stat(file)
	require.NoError(err)

	restarted := New(file)
	require.NoError(restarted.Load())
	st := restarted.State()
	require.True(st.Paired())
	require.Equal("D1", st.Identity.DisplayID)
	require.Equal("p1", st.LastKnownGood.Playlist.ID)
	require.Equal(installationID, st.InstallationID)
}

func TestUpdateRejectsTokenWithoutDisplay(t *testing.T) {
	require := require.New(t)
	s := New(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(s.Load())

	err := s.Update(func(st *state.State) {
		st.Identity = &models.DeviceIdentity{DeviceToken: "orphan"}
	})
	require.ErrorIs(err, state.ErrTokenWithoutDisplay)
	require.Nil(s.State().Identity)
}

func TestStateIsASnapshot(t *testing.T) {
	require := require.New(t)
	s := New(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(s.Load())
	require.NoError(s.Update(func(st *state.State) {
		st.Identity = &models.DeviceIdentity{DisplayID: "D1", DeviceToken: "tok-1"}
	}))

	snapshot := s.State()
	snapshot.Identity.DeviceToken = "changed"
	require.Equal("tok-1", s.State().Identity.DeviceToken)
}

func TestClearIdentity(t *testing.T) {
	require := require.New(t)
	s := New(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(s.Load())
	require.NoError(s.Update(func(st *state.State) {
		st.Identity = &models.DeviceIdentity{DisplayID: "D1", DeviceToken: "tok-1"}
		st.LastKnownGood = &models.ResolvedConfig{}
	}))
	require.NoError(s.Update(func(st *state.State) { st.ClearIdentity() }))

	st := s.State()
	require.Nil(st.Identity)
	require.Nil(st.LastKnownGood)
	require.Empty(st.KnownDisplayID())
	require.NotEmpty(st.InstallationID)
}
