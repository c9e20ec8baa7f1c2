package decoder

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func compress(t *testing.T, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write([]byte(text))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDecompress_RoundTrip(t *testing.T) {
	d := NewDecompressor(zap.NewNop())
	texts := []string{
		`{"vrcode":"VR123","rooms":[]}`,
		`{"rooms":[{"roomname":"ICU","trks":[{"name":"HR","recs":[{"val":72,"dt":1700000000}]}]}]}`,
		`x`,
	}

	for _, text := range texts {
		compressed := compress(t, text)
		require.Equal(t, byte(0x78), compressed[0])

		out, err := d.Decompress(compressed)
		require.NoError(t, err)
		assert.Equal(t, text, string(out))

		// Socket.IO v4 类型字节前缀
		prefixed := append([]byte{0x04}, compressed...)
		out, err = d.Decompress(prefixed)
		require.NoError(t, err)
		assert.Equal(t, text, string(out))
	}
}

func TestDecompress_LargePayload(t *testing.T) {
	d := NewDecompressor(zap.NewNop())
	text := `{"rooms":[` + string(bytes.Repeat([]byte(`{"roomname":"bed"},`), 20000)) + `{}]}`

	out, err := d.Decompress(compress(t, text))
	require.NoError(t, err)
	assert.Equal(t, text, string(out))
}

func TestDecompress_Passthrough(t *testing.T) {
	d := NewDecompressor(zap.NewNop())
	inputs := [][]byte{
		{},
		[]byte(`{"vrcode":"VR1"}`),
		{0x04},
		{0x04, 0x01, 0x02},
		{0x01, 0x78, 0x9c},
	}

	for _, in := range inputs {
		out, err := d.Decompress(in)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestDecompress_CorruptZlib(t *testing.T) {
	d := NewDecompressor(zap.NewNop())

	compressed := compress(t, `{"vrcode":"VR123","rooms":[]}`)
	truncated := compressed[:len(compressed)/2]

	_, err := d.Decompress(truncated)
	assert.ErrorIs(t, err, ErrDecompress)

	_, err = d.Decompress(append([]byte{0x04}, truncated...))
	assert.ErrorIs(t, err, ErrDecompress)

	_, err = d.Decompress([]byte{0x78, 0x00, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrDecompress)
}

func TestDecompress_ExtraTypeByteBeforeZlib(t *testing.T) {
	d := NewDecompressor(zap.NewNop())
	compressed := compress(t, `{"rooms":[]}`)

	// 首字节恰好为 0x78 的额外类型字节：第一次 inflate 失败后去掉首字节重试
	out, err := d.Decompress(append([]byte{0x78}, compressed...))
	require.NoError(t, err)
	assert.Equal(t, `{"rooms":[]}`, string(out))
}
