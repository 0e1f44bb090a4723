package ingest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJsonWalker(t *testing.T) {
	input := `
{
  "EchoTime": 0.03,
  "ImageType": ["ORIGINAL", "PRIMARY", "M"],
  "Manufacturer": "Siemens",
  "SliceTiming": [0, 0.5, 1.0]
}
`
	var data interface{}
	err := json.Unmarshal([]byte(input), &data)
	require.NoError(t, err)

	w := NewJsonWalker()

	t.Run("select primitive", func(t *testing.T) {
		v, ok, err := w.First(data, "$.EchoTime")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 0.03, v)
	})

	t.Run("select list items", func(t *testing.T) {
		matches, err := w.Query(data, "$.ImageType[*]")
		require.NoError(t, err)
		assert.Equal(t, []any{"ORIGINAL", "PRIMARY", "M"}, matches)
	})

	t.Run("missing key", func(t *testing.T) {
		_, ok, err := w.First(data, "$.FlipAngle")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalid selector", func(t *testing.T) {
		_, err := w.Query(data, "$.a[1")
		assert.Error(t, err)
	})
}
