package consumer

import (
	"errors"
	"testing"

	"github.com/UTBM-Alison/vital-connect/internal/decoder"
	"github.com/UTBM-Alison/vital-connect/internal/models"
	"github.com/UTBM-Alison/vital-connect/internal/transformer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPipeline_Process(t *testing.T) {
	p := NewPipeline(zap.NewNop())

	batch, err := p.Process(zlibCompress(t, `{"vrcode":"VR123","rooms":[{"roomname":"ICU","trks":[{"name":"HR","unit":"bpm","recs":[{"val":72,"dt":1700000000}]}]}]}`))
	require.NoError(t, err)
	assert.Equal(t, "VR123", batch.VRCodeOr(""))
	require.Len(t, batch.AllTracks, 1)
	assert.Equal(t, "72", batch.AllTracks[0].DisplayValue)
	assert.Equal(t, models.KindNumber, batch.AllTracks[0].Kind)
}

func TestPipeline_UncompressedPassthrough(t *testing.T) {
	p := NewPipeline(zap.NewNop())

	batch, err := p.Process([]byte(`{"vrcode":"RAW","rooms":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "RAW", batch.VRCodeOr(""))
	assert.Empty(t, batch.Rooms)
	assert.Empty(t, batch.AllTracks)
}

func TestPipeline_StageAttribution(t *testing.T) {
	p := NewPipeline(zap.NewNop())

	tests := []struct {
		name    string
		payload []byte
		stage   models.Stage
		cause   error
	}{
		{"corrupt zlib", []byte{0x04, 0x78, 0x9c, 0xff, 0x00}, models.StageDecompress, decoder.ErrDecompress},
		{"invalid json", []byte(`{"vrcode":`), models.StageParse, decoder.ErrParse},
		{"millisecond timestamp", []byte(`{"vrcode":"VR1","rooms":[{"trks":[{"name":"HR","recs":[{"val":72,"dt":1700000000000}]}]}]}`),
			models.StageTransform, transformer.ErrTimestampOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := p.Process(tt.payload)
			require.Error(t, err)
			assert.Nil(t, batch)

			var perr *models.ProcessingError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.stage, perr.Stage)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
}
