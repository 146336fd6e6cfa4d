package bridge

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidFrame reports a browser audio frame that is not decodable
// base64 PCM16.
var ErrInvalidFrame = errors.New("invalid audio frame")

// DefaultRMSThreshold is the energy floor above which a frame counts as
// speech. Typical microphone noise floors sit well below this.
const DefaultRMSThreshold = 0.01

// EnergyDetector decides whether a base64 PCM16 frame contains speech.
// Frames at or below the threshold are treated as silence and never open a
// user turn.
type EnergyDetector struct {
	threshold float64
}

func NewEnergyDetector(threshold float64) *EnergyDetector {
	if threshold <= 0 {
		threshold = DefaultRMSThreshold
	}
	return &EnergyDetector{threshold: threshold}
}

// NonSilent decodes one frame and reports whether its RMS energy exceeds the
// detector threshold.
func (d *EnergyDetector) NonSilent(frameB64 string) (bool, error) {
	pcm, err := base64.StdEncoding.DecodeString(frameB64)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if len(pcm) < 2 || len(pcm)%2 != 0 {
		return false, fmt.Errorf("%w: %d bytes is not whole 16-bit samples", ErrInvalidFrame, len(pcm))
	}
	return rmsEnergy(pcm) > d.threshold, nil
}

// rmsEnergy computes the root-mean-square energy of 16-bit signed
// little-endian PCM, normalized to [0,1].
func rmsEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}
