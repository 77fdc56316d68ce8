package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"0", 0},
		{"4096", 4096},
		{"512B", 512},
		{"1Ki", KiB},
		{"64Mi", 64 * MiB},
		{"64MiB", 64 * MiB},
		{"2gi", 2 * GiB},
		{"1Ti", TiB},
		{"10KB", 10 * KB},
		{"100M", 100 * MB},
		{" 1 Gi ", GiB},
		{"1.5Mi", ByteSize(1.5 * float64(MiB))},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseByteSize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseByteSizeRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "Gi", "-1Gi", "1Xi", "abc", "1.2.3Mi"} {
		_, err := ParseByteSize(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestTextRoundTrip(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("256Mi")))
	assert.Equal(t, 256*MiB, b)

	text, err := b.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "256Mi", string(text))

	assert.Error(t, b.UnmarshalText([]byte("lots")))
}

func TestString(t *testing.T) {
	assert.Equal(t, "100", ByteSize(100).String())
	assert.Equal(t, "4Ki", (4 * KiB).String())
	assert.Equal(t, "1.50Gi", (GiB + 512*MiB).String())
}

func TestConversions(t *testing.T) {
	assert.Equal(t, 2.0, (2 * MiB).MiBs())
	assert.Equal(t, 1024, KiB.Int())
	assert.EqualValues(t, 1<<30, GiB.Int64())
}
