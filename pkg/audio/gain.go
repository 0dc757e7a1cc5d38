package audio

import "log/slog"

// Automatic gain control tuning.
const (
	agcSilenceFloor = 0.002
	agcMaxGain      = 20.0
	agcKeep         = 0.7
	agcUpdateEvery  = 100
)

// AutoGain is a slow automatic gain control for quiet microphones. It
// averages the RMS of non-silent frames over a window of agcUpdateEvery
// frames and nudges its gain toward TargetRMS, never below 1x and never above
// 20x. Silent frames are excluded so pauses do not inflate the gain.
//
// AutoGain is not safe for concurrent use; [Capture] owns one per stream.
type AutoGain struct {
	TargetRMS float64

	gain  float64
	sum   float64
	count int
}

// NewAutoGain returns an [AutoGain] aiming for targetRMS.
func NewAutoGain(targetRMS float64) *AutoGain {
	return &AutoGain{TargetRMS: targetRMS, gain: 1}
}

// Gain returns the gain currently applied.
func (g *AutoGain) Gain() float64 {
	return g.gain
}

// Process measures pcm, updates the running estimate, and returns pcm scaled
// by the current gain.
func (g *AutoGain) Process(pcm []byte) []byte {
	if rms := RMS(pcm); rms > agcSilenceFloor {
		g.sum += rms
		g.count++
	}
	if g.count >= agcUpdateEvery {
		avg := g.sum / float64(g.count)
		g.sum, g.count = 0, 0
		if avg > agcSilenceFloor && g.TargetRMS > 0 {
			want := max(1.0, min(g.TargetRMS/avg, agcMaxGain))
			g.gain = g.gain*agcKeep + want*(1-agcKeep)
			slog.Debug("audio: auto gain updated", "avg_rms", avg, "gain", g.gain)
		}
	}
	if g.gain > 1.05 {
		return ApplyGain(pcm, g.gain)
	}
	return pcm
}
