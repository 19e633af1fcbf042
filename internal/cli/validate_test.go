package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configTestdata = filepath.Join("..", "config", "testdata")

func validate(t *testing.T, opts *RootOptions, path string) (string, string, error) {
	t.Helper()

	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	cmd := NewValidateCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	return buf.String(), errBuf.String(), err
}

func TestValidateValidConfig(t *testing.T) {
	for _, name := range []string{"full.yaml", "full.cue"} {
		t.Run(name, func(t *testing.T) {
			out, _, err := validate(t, &RootOptions{Format: "text"}, filepath.Join(configTestdata, name))
			require.NoError(t, err)
			assert.Contains(t, out, "✓ Config valid")
		})
	}
}

func TestValidateValidConfigJSON(t *testing.T) {
	out, _, err := validate(t, &RootOptions{Format: "json"}, filepath.Join(configTestdata, "full.yaml"))
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidateNonExistentFile(t *testing.T) {
	out, _, err := validate(t, &RootOptions{Format: "text"}, "/nonexistent/dosestore.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, out, "not found")
}

func TestValidateSchemaError(t *testing.T) {
	out, _, err := validate(t, &RootOptions{Format: "text"}, filepath.Join(configTestdata, "bad_start.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, out, "✗ Validation failed")
}

func TestValidateSchemaErrorJSON(t *testing.T) {
	out, _, err := validate(t, &RootOptions{Format: "json"}, filepath.Join(configTestdata, "bad_start.cue"))
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 1)
	assert.Positive(t, resp.Data.Errors[0].Line)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfigInvalid, resp.Error.Code)
}

func TestValidateUnknownTimezone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tz.yaml")
	content := `database: doses.db
basal_profile:
  timezone: Mars/Olympus_Mons
  items:
    - start: "00:00"
      value: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	out, _, err := validate(t, &RootOptions{Format: "text"}, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "basal_profile.timezone")
}

func TestValidateVerboseOutput(t *testing.T) {
	path := filepath.Join(configTestdata, "full.yaml")
	_, errOut, err := validate(t, &RootOptions{Format: "json", Verbose: true}, path)
	require.NoError(t, err)

	// Verbose logs go to stderr to avoid corrupting JSON output
	assert.Contains(t, errOut, "Validating "+path)
}
