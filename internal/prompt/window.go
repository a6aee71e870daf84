// Package prompt turns stored conversation history into model input: it
// bounds the history to a recent window and renders the window through a
// model-family chat template.
package prompt

import (
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/chatstore"
)

// DefaultMaxTurns bounds how many user/assistant exchanges are replayed to
// the model on each request.
const DefaultMaxTurns = 5

// Window returns the trailing portion of history covering at most maxTurns
// exchanges (2*maxTurns messages), preserving order. The input slice is never
// mutated. A non-positive maxTurns yields an empty window.
func Window(history []chatstore.Message, maxTurns int) []chatstore.Message {
	if maxTurns <= 0 || len(history) == 0 {
		return nil
	}
	keep := 2 * maxTurns
	if len(history) <= keep {
		return history
	}
	return history[len(history)-keep:]
}
