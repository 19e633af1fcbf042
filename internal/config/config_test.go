package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dosestore/internal/dosestore"
)

func TestLoad_YAML(t *testing.T) {
	t.Setenv(EnvDatabase, "")
	f, err := Load("testdata/full.yaml")
	require.NoError(t, err)

	assert.Equal(t, "doses.db", f.Database)
	assert.Equal(t, "6h", f.InsulinActionDuration)
	require.NotNil(t, f.BasalProfile)
	assert.Len(t, f.BasalProfile.Items, 2)
	require.NotNil(t, f.InsulinSensitivity)
	assert.Equal(t, "UTC", f.InsulinSensitivity.Timezone, "timezone defaults to UTC")
	require.NotNil(t, f.Upload)
	assert.Equal(t, "10s", f.Upload.Timeout)
}

func TestLoad_CUE(t *testing.T) {
	t.Setenv(EnvDatabase, "")
	f, err := Load("testdata/full.cue")
	require.NoError(t, err)

	assert.Equal(t, "doses.db", f.Database)
	require.NotNil(t, f.BasalProfile)
	assert.Equal(t, 1.2, f.BasalProfile.Items[1].Value)
	assert.Nil(t, f.Upload)
}

func TestLoad_SchemaErrorHasPosition(t *testing.T) {
	_, err := Load("testdata/bad_start.cue")
	require.Error(t, err)

	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
	assert.True(t, cfgErr.Pos.IsValid(), "error %v should carry a position", err)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
	}{
		{"missing database", "c.yaml", "insulin_action_duration: 6h\n"},
		{"unknown field", "c.yaml", "database: d.db\nbolus_wizard: true\n"},
		{"bad duration", "c.yaml", "database: d.db\nretention: forever\n"},
		{"empty schedule", "c.yaml", "database: d.db\nbasal_profile:\n  items: []\n"},
		{"negative rate", "c.yaml", "database: d.db\nbasal_profile:\n  items:\n    - {start: \"00:00\", value: -1}\n"},
		{"bad upload url", "c.yaml", "database: d.db\nupload:\n  url: ftp://x\n"},
		{"empty yaml", "c.yaml", ""},
		{"unknown extension", "c.toml", "database = 'd.db'"},
		{"invalid cue", "c.cue", "database: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.file, []byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestParse_EnvOverridesDatabase(t *testing.T) {
	t.Setenv(EnvDatabase, "/tmp/override.db")
	f, err := Parse("c.yaml", []byte("database: d.db\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", f.Database)
}

func TestOptions(t *testing.T) {
	t.Setenv(EnvDatabase, "")
	f, err := Load("testdata/full.yaml")
	require.NoError(t, err)
	f.Database = t.TempDir() + "/doses.db"

	opts, err := f.Options(nil)
	require.NoError(t, err)
	assert.Len(t, opts, 7)

	ds := dosestore.New(opts...)
	defer ds.Close()
	assert.NotEqual(t, dosestore.NeedsConfiguration, ds.State().Kind)
}

func TestOptions_Errors(t *testing.T) {
	tests := []struct {
		name string
		file File
	}{
		{"zero duration", File{Database: "d.db", InsulinActionDuration: "0s"}},
		{"bad timezone", File{Database: "d.db", BasalProfile: &Schedule{Timezone: "Mars/Olympus", Items: []Item{{Start: "00:00", Value: 1}}}}},
		{"first item not midnight", File{Database: "d.db", BasalProfile: &Schedule{Items: []Item{{Start: "01:00", Value: 1}}}}},
		{"unsorted items", File{Database: "d.db", InsulinSensitivity: &Schedule{Items: []Item{{Start: "00:00", Value: 40}, {Start: "00:00", Value: 50}}}}},
		{"bad upload timeout", File{Database: "d.db", Upload: &Upload{URL: "http://x", Timeout: "-1s"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.file.Options(nil)
			var cfgErr *Error
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
}

func TestSchedule_Daily(t *testing.T) {
	s := &Schedule{Timezone: "UTC", Items: []Item{{Start: "00:00", Value: 0.8}, {Start: "06:30", Value: 1.2}}}
	daily, err := s.Daily("basal_profile")
	require.NoError(t, err)

	assert.Equal(t, 6*time.Hour+30*time.Minute, daily.Items[1].Start)
	assert.Equal(t, 1.2, daily.ValueAt(time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0.8, daily.ValueAt(time.Date(2024, 3, 1, 6, 29, 0, 0, time.UTC)))
}
