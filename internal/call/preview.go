package call

import (
	"context"

	log "log/slog"

	"github.com/k4ssym/persona/pkg/stt"
)

// FeedbackPreview runs a rolling local recognition pass over the mic
// chunks the pipeline mirrors out. It exists only to put live text on the
// kiosk screen; the primary call never depends on it.
type FeedbackPreview struct {
	tr       *stt.Transcriber
	language string
	chunks   chan []float32
}

func NewFeedbackPreview(tr *stt.Transcriber, language string) *FeedbackPreview {
	return &FeedbackPreview{
		tr:       tr,
		language: language,
		chunks:   make(chan []float32, 64),
	}
}

// Chunks is the mirror sink to hand the pipeline. Writers must not block
// on it; the recorder already sends non-blocking.
func (f *FeedbackPreview) Chunks() chan<- []float32 { return f.chunks }

// Run recognizes the rolling window until ctx ends. Recognition errors
// are logged and the stream keeps draining so the capture side never
// stalls.
func (f *FeedbackPreview) Run(ctx context.Context, onText func(string)) error {
	f.tr.Preview(ctx, f.chunks, stt.Options{Language: f.language}, func(text string, err error) {
		if err != nil {
			log.Warn("Preview recognition failed", "err", err)
			return
		}
		if text != "" {
			onText(text)
		}
	})
	return ctx.Err()
}
