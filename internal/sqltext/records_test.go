package sqltext

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToRecords(t *testing.T) {
	t.Parallel()

	t.Run("pairs headers with values", func(t *testing.T) {
		t.Parallel()

		records, err := ToRecords(Tabular{
			Headers: []string{"id", "name"},
			Rows:    [][]string{{"1", "a"}, {"2", "b"}},
		})
		require.NoError(t, err)
		require.Len(t, records, 2)

		out, err := Marshal(records)
		require.NoError(t, err)
		require.Equal(t, `[{"id":"1","name":"a"},{"id":"2","name":"b"}]`, out)
	})

	t.Run("keeps column order", func(t *testing.T) {
		t.Parallel()

		records, err := ToRecords(Tabular{
			Headers: []string{"z", "a", "m"},
			Rows:    [][]string{{"1", "2", "3"}},
		})
		require.NoError(t, err)

		out, err := Marshal(records)
		require.NoError(t, err)
		require.Equal(t, `[{"z":"1","a":"2","m":"3"}]`, out)

		v, ok := records[0].Get("a")
		require.True(t, ok)
		require.Equal(t, "2", v)
	})

	t.Run("mismatched row length", func(t *testing.T) {
		t.Parallel()

		_, err := ToRecords(Tabular{
			Headers: []string{"id", "name"},
			Rows:    [][]string{{"1", "a"}, {"2"}},
		})
		require.ErrorIs(t, err, ErrMalformedResult)
	})

	t.Run("no rows marshals as empty array", func(t *testing.T) {
		t.Parallel()

		records, err := ToRecords(Tabular{Headers: []string{"cnt"}})
		require.NoError(t, err)

		out, err := Marshal(records)
		require.NoError(t, err)
		require.Equal(t, `[]`, out)
	})

	t.Run("values are not html escaped", func(t *testing.T) {
		t.Parallel()

		records, err := ToRecords(Tabular{
			Headers: []string{"条件"},
			Rows:    [][]string{{"a<b & c"}},
		})
		require.NoError(t, err)

		out, err := Marshal(records)
		require.NoError(t, err)
		require.Equal(t, `[{"条件":"a<b & c"}]`, out)
	})
}
