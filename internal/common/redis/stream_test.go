package redis

import (
	"context"
	"testing"

	"github.com/UTBM-Alison/vital-connect/internal/common/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamWriter_AppendTrimsWithMaxLen(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := Dial(ctx, &config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)

	w := NewStreamWriter(client, "vitals", 2)
	defer w.Close()

	for i := 0; i < 5; i++ {
		id, err := w.Append(ctx, map[string]int{"seq": i})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}

	entries, err := client.XRange(ctx, "vitals", "-", "+").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entries), 5)
	assert.Equal(t, `{"seq":4}`, entries[len(entries)-1].Values["data"])
}

func TestStreamWriter_AppendRejectsUnmarshalable(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Dial(context.Background(), &config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	w := NewStreamWriter(client, "vitals", 0)
	defer w.Close()

	_, err = w.Append(context.Background(), make(chan int))
	assert.Error(t, err)
}

func TestDial_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Dial(context.Background(), &config.RedisConfig{Addr: addr})
	assert.Error(t, err)
}
