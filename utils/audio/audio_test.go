package audio

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCMULawRoundTrip(t *testing.T) {
	pcm := make([]byte, 64)
	for i := 0; i < 32; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i*1000-16000)))
	}

	ulaw, err := PCMBytesToULaw(pcm)
	require.NoError(t, err)
	assert.Len(t, ulaw, 32) // one byte per 16-bit sample

	back := ULawBytesToPCM(ulaw)
	assert.Len(t, back, 64)
}

func TestPCMBytesToULawOddLength(t *testing.T) {
	_, err := PCMBytesToULaw([]byte{0x00, 0x01, 0x02})
	assert.Error(t, err)
}

func TestPCMBytesToWavBytesHeader(t *testing.T) {
	pcm := make([]byte, 480) // 240 mono frames
	wav, err := PCMBytesToWavBytes(pcm, 1, 24000)
	require.NoError(t, err)
	require.Len(t, wav, 44+480)

	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "fmt ", string(wav[12:16]))
	assert.Equal(t, "data", string(wav[36:40]))

	assert.Equal(t, uint32(36+480), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[20:22]))  // PCM format
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]))  // channels
	assert.Equal(t, uint32(24000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(wav[28:32])) // byte rate
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(wav[34:36]))   // bits per sample
	assert.Equal(t, uint32(480), binary.LittleEndian.Uint32(wav[40:44]))
}

func TestPCMBytesToWavBytesValidation(t *testing.T) {
	_, err := PCMBytesToWavBytes(nil, 1, 24000)
	assert.Error(t, err)

	_, err = PCMBytesToWavBytes(make([]byte, 4), 3, 24000)
	assert.Error(t, err)

	_, err = PCMBytesToWavBytes(make([]byte, 4), 1, 0)
	assert.Error(t, err)

	// stereo requires 4-byte frames
	_, err = PCMBytesToWavBytes(make([]byte, 6), 2, 24000)
	assert.Error(t, err)
}

func TestPCMDuration(t *testing.T) {
	pcm := make([]byte, 48000) // 24000 mono frames at 24kHz = 1s
	d, err := PCMDuration(pcm, 1, 24000)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = PCMDuration(pcm, 2, 24000) // stereo halves the frame count
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, d)
}

func TestPCMDurationValidation(t *testing.T) {
	_, err := PCMDuration(nil, 1, 24000)
	assert.Error(t, err)

	_, err = PCMDuration(make([]byte, 3), 1, 24000)
	assert.Error(t, err)

	_, err = PCMDuration(make([]byte, 4), 1, 0)
	assert.Error(t, err)
}
