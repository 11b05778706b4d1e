package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"

	"github.com/zaf/g711"
)

// PCMBytesToULaw converts 16-bit PCM bytes to 8-bit µ-law (ITU-T G.711).
// Used by the websocket transport's telephony output mode.
func PCMBytesToULaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("PCM byte slice length must be even (16-bit samples)")
	}
	return g711.EncodeUlaw(pcm), nil
}

// ULawBytesToPCM converts 8-bit µ-law bytes back to 16-bit PCM.
func ULawBytesToPCM(uBytes []byte) []byte {
	return g711.DecodeUlaw(uBytes)
}

// PCMBytesToWavBytes wraps raw 16-bit PCM in a RIFF/WAVE container so a
// browser audio element can play it directly.
func PCMBytesToWavBytes(pcm []byte, numChannels, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, errors.New("PCM data is empty")
	}
	if numChannels <= 0 || numChannels > 2 {
		return nil, errors.New("only mono (1) or stereo (2) channels supported")
	}
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	if len(pcm)%(2*numChannels) != 0 {
		return nil, errors.New("PCM data length doesn't match channel count")
	}

	const (
		bitsPerSample  = 16
		audioFormatPCM = 1
		subchunk1Size  = 16
	)

	blockAlign := numChannels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign
	dataSize := len(pcm)
	fileSize := 36 + dataSize // 36 = WAV header size

	buf := bytes.NewBuffer(make([]byte, 0, 44+dataSize))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(fileSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(subchunk1Size))
	binary.Write(buf, binary.LittleEndian, uint16(audioFormatPCM))
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// PCMDuration returns the playback duration of raw 16-bit PCM.
func PCMDuration(pcm []byte, numChannels, sampleRate int) (time.Duration, error) {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return 0, errors.New("PCM data must be non-empty with even length (16-bit samples)")
	}
	if numChannels <= 0 || len(pcm)%(2*numChannels) != 0 {
		return 0, errors.New("PCM data length doesn't match channel count")
	}
	if sampleRate <= 0 {
		return 0, errors.New("invalid sample rate")
	}
	frames := len(pcm) / 2 / numChannels
	return time.Duration(float64(frames) / float64(sampleRate) * float64(time.Second)), nil
}
