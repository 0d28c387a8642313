// Package wavfile loads WAV files produced by the audio extraction step into
// in-memory 16-bit mono PCM suitable for speech-to-text providers.
//
// Decoding is delegated to github.com/go-audio/wav. Multi-channel input is
// down-mixed by averaging; sample depths other than 16 bit are rescaled.
package wavfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidFile is returned when the input is not a readable RIFF/WAVE file.
var ErrInvalidFile = errors.New("wavfile: not a valid WAV file")

// PCM is a decoded mono audio clip.
type PCM struct {
	// Samples holds signed 16-bit samples, one per frame.
	Samples []int16

	// SampleRate is the sample rate in Hz.
	SampleRate int

	// SourceChannels is the channel count of the file before down-mixing.
	SourceChannels int
}

// Load decodes the WAV file at path.
func Load(path string) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFile, path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavfile: read pcm %q: %w", path, err)
	}
	return fromIntBuffer(buf, int(dec.BitDepth))
}

// fromIntBuffer down-mixes and rescales a decoded go-audio buffer.
func fromIntBuffer(buf *audio.IntBuffer, bitDepth int) (*PCM, error) {
	if buf == nil || buf.Format == nil {
		return nil, ErrInvalidFile
	}
	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	if bitDepth <= 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}

	frames := len(buf.Data) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int64
		for ch := range channels {
			sum += int64(buf.Data[i*channels+ch])
		}
		out[i] = rescale(sum/int64(channels), bitDepth)
	}
	return &PCM{
		Samples:        out,
		SampleRate:     buf.Format.SampleRate,
		SourceChannels: channels,
	}, nil
}

// rescale converts a sample of the given bit depth to the 16-bit range and
// clamps it.
func rescale(v int64, bitDepth int) int16 {
	switch {
	case bitDepth == 8:
		// 8-bit WAV is unsigned.
		v = (v - 128) << 8
	case bitDepth > 16:
		v >>= uint(bitDepth - 16)
	}
	if v > math.MaxInt16 {
		v = math.MaxInt16
	}
	if v < math.MinInt16 {
		v = math.MinInt16
	}
	return int16(v)
}

// Duration returns the playback length of the clip.
func (p *PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(p.Samples)) * time.Second / time.Duration(p.SampleRate)
}

// Bytes returns the samples as little-endian signed 16-bit PCM.
func (p *PCM) Bytes() []byte {
	out := make([]byte, len(p.Samples)*2)
	for i, s := range p.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Float32 returns the samples normalised to [-1.0, 1.0].
func (p *PCM) Float32() []float32 {
	out := make([]float32, len(p.Samples))
	for i, s := range p.Samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// RMS returns the root-mean-square energy of the clip in 16-bit sample units
// (0–32 767). Returns 0 for an empty clip.
func (p *PCM) RMS() float64 {
	if len(p.Samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range p.Samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(p.Samples)))
}

// Resample returns a copy of the clip at rate using linear interpolation.
// The receiver is returned unchanged when it already has that rate.
func (p *PCM) Resample(rate int) *PCM {
	if rate <= 0 || p.SampleRate <= 0 || rate == p.SampleRate || len(p.Samples) < 2 {
		return p
	}
	n := int(int64(len(p.Samples)) * int64(rate) / int64(p.SampleRate))
	out := make([]int16, n)
	ratio := float64(p.SampleRate) / float64(rate)
	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := p.Samples[idx]
		s1 := s0
		if idx+1 < len(p.Samples) {
			s1 = p.Samples[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return &PCM{Samples: out, SampleRate: rate, SourceChannels: p.SourceChannels}
}

// Chunks splits the little-endian PCM encoding of the clip into pieces of at
// most size bytes. The last chunk may be shorter.
func (p *PCM) Chunks(size int) [][]byte {
	data := p.Bytes()
	if size <= 0 || len(data) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, len(data)/size+1)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		chunks = append(chunks, data[start:end])
	}
	return chunks
}
