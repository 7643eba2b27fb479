// Package prompt rewrites short user prompts into richer video-generation
// prompts through a unary chat-completions call.
package prompt

import (
	"context"
	"fmt"
)

// Enhancer produces an enhanced version of a raw user prompt.
type Enhancer interface {
	Enhance(ctx context.Context, prompt string) (string, error)
}

// APIError preserves the HTTP status of a failed enhancement call so the
// handler can surface rate limiting and auth failures distinctly.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("prompt: enhance: status %d: %s", e.Status, e.Body)
}

// MaxEnhancedLength is the remote generation API's prompt ceiling; longer
// model output is truncated with an ellipsis.
const MaxEnhancedLength = 2000

const systemPrompt = `You are an expert video prompt engineer specializing in AI video generation. Your task is to enhance user prompts to create more vivid, cinematic, and detailed video descriptions that will produce better results with the video generation model.

Guidelines for enhancement:
1. Add specific visual details (lighting, colors, textures, movements)
2. Include camera movements and angles (dolly, pan, zoom, tracking shot, etc.)
3. Specify mood and atmosphere
4. Add temporal transitions (how the scene evolves)
5. Include artistic style references when appropriate (cinematic, documentary, artistic, etc.)
6. Keep the core concept from the original prompt
7. Stay within 2000 characters maximum
8. Be specific about motion and dynamics
9. Use vivid, descriptive language
10. Consider composition and framing

Transform short, simple prompts into rich, detailed video descriptions that maintain the original intent while adding professional cinematography elements.

Return ONLY the enhanced prompt, without any explanation or additional text.`
