package wavfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeWAV encodes data as a 16-bit WAV file in a temp dir and returns its path.
func writeWAV(t *testing.T, sampleRate, channels int, data []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

func TestLoad_Mono(t *testing.T) {
	path := writeWAV(t, 16000, 1, []int{0, 100, -100, 32767})

	pcm, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pcm.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", pcm.SampleRate)
	}
	want := []int16{0, 100, -100, 32767}
	if len(pcm.Samples) != len(want) {
		t.Fatalf("len(Samples) = %d, want %d", len(pcm.Samples), len(want))
	}
	for i, s := range want {
		if pcm.Samples[i] != s {
			t.Errorf("Samples[%d] = %d, want %d", i, pcm.Samples[i], s)
		}
	}
}

func TestLoad_StereoDownmix(t *testing.T) {
	path := writeWAV(t, 8000, 2, []int{100, 300, -200, -400})

	pcm, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pcm.SourceChannels != 2 {
		t.Errorf("SourceChannels = %d, want 2", pcm.SourceChannels)
	}
	if len(pcm.Samples) != 2 {
		t.Fatalf("len(Samples) = %d, want 2", len(pcm.Samples))
	}
	if pcm.Samples[0] != 200 || pcm.Samples[1] != -300 {
		t.Errorf("Samples = %v, want [200 -300]", pcm.Samples)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("definitely not riff data"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if !errors.Is(err, ErrInvalidFile) {
		t.Fatalf("err = %v, want ErrInvalidFile", err)
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.wav"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestPCM_Duration(t *testing.T) {
	p := &PCM{Samples: make([]int16, 32000), SampleRate: 16000}
	if got := p.Duration(); got != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", got)
	}
	if got := (&PCM{}).Duration(); got != 0 {
		t.Errorf("zero-rate Duration = %v, want 0", got)
	}
}

func TestPCM_Bytes(t *testing.T) {
	p := &PCM{Samples: []int16{1, -1}}
	got := p.Bytes()
	want := []byte{0x01, 0x00, 0xff, 0xff}
	if string(got) != string(want) {
		t.Errorf("Bytes = %v, want %v", got, want)
	}
}

func TestPCM_Float32(t *testing.T) {
	p := &PCM{Samples: []int16{0, 16384, -32768}}
	got := p.Float32()
	want := []float32{0, 0.5, -1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Float32()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCM_RMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", []int16{0, 0, 0}, 0},
		{"constant", []int16{1000, -1000, 1000, -1000}, 1000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := &PCM{Samples: tc.samples}
			if got := p.RMS(); got != tc.want {
				t.Errorf("RMS = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPCM_Resample(t *testing.T) {
	p := &PCM{Samples: []int16{0, 100, 200, 300}, SampleRate: 8000}

	same := p.Resample(8000)
	if same != p {
		t.Error("Resample to same rate should return receiver")
	}

	up := p.Resample(16000)
	if up.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", up.SampleRate)
	}
	if len(up.Samples) != 8 {
		t.Fatalf("len = %d, want 8", len(up.Samples))
	}
	if up.Samples[1] != 50 {
		t.Errorf("interpolated sample = %d, want 50", up.Samples[1])
	}
}

func TestPCM_Chunks(t *testing.T) {
	p := &PCM{Samples: make([]int16, 5)}
	chunks := p.Chunks(4)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	if len(chunks[2]) != 2 {
		t.Errorf("last chunk len = %d, want 2", len(chunks[2]))
	}
	if p.Chunks(0) != nil {
		t.Error("Chunks(0) should be nil")
	}
}

func TestRescale(t *testing.T) {
	if got := rescale(1<<23-1, 24); got != 32767 {
		t.Errorf("24-bit max = %d, want 32767", got)
	}
	if got := rescale(128, 8); got != 0 {
		t.Errorf("8-bit midpoint = %d, want 0", got)
	}
	if got := rescale(70000, 16); got != 32767 {
		t.Errorf("clamp = %d, want 32767", got)
	}
}
