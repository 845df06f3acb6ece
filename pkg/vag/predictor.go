package vag

import "math"

// Predictor filter coefficients, indexed by the high nibble of the block parameter byte.
var (
	K0 = [5]float64{0, 0.9375, 1.796875, 1.53125, 1.90625}
	K1 = [5]float64{0, 0, -0.8125, -0.859375, -0.9375}
)

// Predictor holds the two-sample history of the ADPCM prediction filter.
// The zero value is a predictor at silence.
type Predictor struct {
	prev1 float64
	prev2 float64
}

// Next decodes one 4-bit sample using the block parameter byte and returns the
// absolute PCM value, saturated to the int16 range. The history keeps the
// unrounded, unclamped prediction.
func (p *Predictor) Next(param byte, nibble int) int16 {
	if nibble > 7 {
		nibble -= 16
	}

	shift := int(param & 0x0F)
	filter := int(param>>4) & 0x0F

	// Filter indices past the table are not produced by the encoder.
	if filter >= len(K0) {
		filter = 0
	}

	value := float64(nibble)*math.Pow(2, float64(12-shift)) +
		p.prev1*K0[filter] +
		p.prev2*K1[filter]

	p.prev2 = p.prev1
	p.prev1 = value

	rounded := math.Floor(value + 0.5)

	switch {
	case rounded > math.MaxInt16:
		return math.MaxInt16
	case rounded < math.MinInt16:
		return math.MinInt16
	}

	return int16(rounded)
}
