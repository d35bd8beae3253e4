// Package audioproc post-processes synthesized audio. Input is s16le
// PCM; processing fails soft, returning the input unchanged when it
// cannot be interpreted.
package audioproc

import (
	"encoding/binary"
	"log/slog"
	"math"

	"github.com/echolane/voicegate/internal/config"
)

// Metadata describes a PCM buffer.
type Metadata struct {
	DurationSeconds float64 `json:"duration_seconds"`
	SampleRate      int     `json:"sample_rate"`
	Channels        int     `json:"channels"`
	DBFS            float64 `json:"dbfs"`
	PeakDBFS        float64 `json:"peak_dbfs"`
}

type Processor struct {
	sampleRate int
	channels   int
	targetDBFS float64
	logger     *slog.Logger
}

func NewProcessor(cfg config.AudioConfig, log *slog.Logger) *Processor {
	return &Processor{
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		targetDBFS: cfg.TargetDBFS,
		logger:     log.With(slog.String("component", "audioproc")),
	}
}

// Normalize applies gain so the buffer's RMS level lands on the target
// dBFS. Unparseable or silent input is returned as-is.
func (p *Processor) Normalize(pcm []byte) []byte {
	samples, ok := decodeSamples(pcm)
	if !ok {
		p.logger.Warn("normalize skipped", slog.Int("bytes", len(pcm)))
		return pcm
	}

	current := rmsDBFS(samples)
	if math.IsInf(current, -1) {
		// Silence. Nothing to scale.
		return pcm
	}

	gain := p.targetDBFS - current
	scale := math.Pow(10, gain/20)

	out := make([]byte, len(pcm))
	for i, s := range samples {
		scaled := float64(s) * scale
		if scaled > math.MaxInt16 {
			scaled = math.MaxInt16
		} else if scaled < math.MinInt16 {
			scaled = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(scaled)))
	}

	p.logger.Debug("audio normalized",
		slog.Float64("from_dbfs", current),
		slog.Float64("to_dbfs", p.targetDBFS),
		slog.Float64("gain_db", gain))
	return out
}

// Duration estimates playback length in seconds for a PCM byte count.
func (p *Processor) Duration(byteLen int) float64 {
	bytesPerSecond := p.sampleRate * p.channels * 2
	if bytesPerSecond == 0 {
		return 0
	}
	return float64(byteLen) / float64(bytesPerSecond)
}

// Metadata inspects a PCM buffer. Fails soft to zero values.
func (p *Processor) Metadata(pcm []byte) Metadata {
	md := Metadata{
		DurationSeconds: p.Duration(len(pcm)),
		SampleRate:      p.sampleRate,
		Channels:        p.channels,
		DBFS:            math.Inf(-1),
		PeakDBFS:        math.Inf(-1),
	}
	samples, ok := decodeSamples(pcm)
	if !ok || len(samples) == 0 {
		return md
	}
	md.DBFS = rmsDBFS(samples)

	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	if peak > 0 {
		md.PeakDBFS = 20 * math.Log10(peak/math.MaxInt16)
	}
	return md
}

func decodeSamples(pcm []byte) ([]int16, bool) {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return nil, false
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples, true
}

func rmsDBFS(samples []int16) float64 {
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/math.MaxInt16)
}
