package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/clofast/clofast/internal/apperr"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func TestUpcoming(t *testing.T) {
	from := time.Date(2025, 2, 28, 14, 0, 0, 0, time.UTC)

	runs, err := upcoming("30 14 * * 4", "UTC", from, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.True(t, runs[0].Equal(time.Date(2025, 2, 28, 14, 30, 0, 0, time.UTC)))
	assert.True(t, runs[1].Equal(time.Date(2025, 3, 7, 14, 30, 0, 0, time.UTC)))
	assert.True(t, runs[2].Equal(time.Date(2025, 3, 14, 14, 30, 0, 0, time.UTC)))

	_, err = upcoming("0 9 30 2 *", "UTC", from, 1)
	assert.ErrorIs(t, err, apperr.ErrInvalidTrigger)

	_, err = upcoming("0 9 * * *", "UTC", from, 0)
	assert.Error(t, err)
}

func TestCompileCommand_JSON(t *testing.T) {
	out, err := execute(t, "compile",
		"--frequency", "monthly",
		"--date", "2025-03-15T09:00:00+05:30",
		"--cron", "",
		"--timezone", "",
		"--count", "2",
		"--format", "json",
	)
	require.NoError(t, err, out)

	var got compileOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "monthly", got.Frequency)
	assert.Equal(t, "0 9 15 * *", got.Expression)
	assert.Equal(t, "+05:30", got.Timezone)
	assert.Len(t, got.NextRuns, 2)
}

func TestCompileCommand_InvalidFrequency(t *testing.T) {
	_, err := execute(t, "compile",
		"--frequency", "yearly",
		"--date", "2025-03-15T09:00:00Z",
		"--format", "text",
	)
	assert.ErrorIs(t, err, apperr.ErrInvalidFrequency)
}

func TestNextCommand_YAML(t *testing.T) {
	out, err := execute(t, "next", "0 9 1 * *",
		"--timezone", "UTC",
		"--from", "2025-02-28T14:00:00Z",
		"--count", "2",
		"--format", "yaml",
	)
	require.NoError(t, err, out)

	var got nextOutput
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "0 9 1 * *", got.Expression)
	require.Len(t, got.Runs, 2)
	assert.True(t, got.Runs[0].Equal(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)))
	assert.True(t, got.Runs[1].Equal(time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)))
}

func TestRender_UnknownFormat(t *testing.T) {
	err := render(&bytes.Buffer{}, "xml", nil, nil)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "clofast version")
}
