package history

import "github.com/dskvich/gemini-telegram-bot/pkg/domain"

// Estimator returns the approximate token cost of a turn. Implementations
// must be deterministic: the same turn always yields the same estimate.
type Estimator interface {
	Estimate(turn domain.Turn) int
}

type EstimatorFunc func(turn domain.Turn) int

func (f EstimatorFunc) Estimate(turn domain.Turn) int { return f(turn) }

const (
	// turnOverheadTokens covers role markers and request framing.
	turnOverheadTokens = 4

	// imageTokens is the flat cost the generative backends charge per image.
	imageTokens = 258

	// audioBytesPerToken assumes ~16 kbit/s Opus at 32 tokens per second.
	audioBytesPerToken = 64

	// binaryDocumentBytesPerToken is a rough figure for PDFs.
	binaryDocumentBytesPerToken = 16

	minMediaTokens = 32
)

// HeuristicEstimator is a length-based estimator per content kind. It does
// not try to match any provider's tokenizer.
type HeuristicEstimator struct{}

func (HeuristicEstimator) Estimate(turn domain.Turn) int {
	tokens := turnOverheadTokens
	for _, part := range turn.Parts {
		tokens += estimatePart(part)
	}
	if rc := turn.ReplyContext; rc != nil {
		// The rendered annotation adds a few fixed lines around the summary.
		tokens += EstimateText(rc.Summary) + 20
	}
	return tokens
}

func estimatePart(part domain.ContentPart) int {
	switch part.Kind {
	case domain.PartText:
		return EstimateText(part.Text)
	case domain.PartImage:
		return imageTokens
	case domain.PartAudio:
		return max(len(part.Data)/audioBytesPerToken, minMediaTokens)
	case domain.PartDocument:
		if part.Text != "" {
			return EstimateText(part.Text)
		}
		return max(len(part.Data)/binaryDocumentBytesPerToken, minMediaTokens)
	default:
		return 0
	}
}

// EstimateText weighs ASCII at ~4 characters per token and any other rune
// at ~1 token.
func EstimateText(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}
