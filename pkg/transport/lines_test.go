package transport

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/objectloader/pkg/base"
)

func TestWriteAndReadLines(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteItem(&buf, base.NewItem(base.Base{"id": "A", "v": 1.0})))
	require.NoError(t, WriteLine(&buf, "B", []byte(`{"id":"B"}`)))

	var ids []string
	err := ReadLines(&buf, func(it base.Item) error {
		ids = append(ids, it.BaseID)
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids)
}

func TestReadLinesSkipsBadLines(t *testing.T) {
	input := strings.Join([]string{
		"A\t{\"id\":\"A\"}",
		"garbage",
		"",
		"B\t{\"id\":\"not-B\"}",
		"{\"id\":\"C\"}",
		"D\t{broken",
	}, "\n")

	var (
		ids []string
		bad int
	)
	err := ReadLines(strings.NewReader(input), func(it base.Item) error {
		ids = append(ids, it.BaseID)
		return nil
	}, func([]byte, error) { bad++ })
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "C"}, ids)
	assert.Equal(t, 3, bad)
}

func TestParseLineIDMismatch(t *testing.T) {
	_, err := ParseLine([]byte("X\t{\"id\":\"Y\"}"))
	assert.ErrorIs(t, err, base.ErrIDMismatch)
}
