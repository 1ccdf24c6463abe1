// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A synthesizer turns one styled utterance into an encoded audio file on
// local storage. The call blocks until the file is complete or synthesis
// fails; callers bound it with ctx.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize renders req into an audio file at path, overwriting any
	// existing file. On success the file is complete and playable and its
	// ownership passes to the caller. On failure no file is guaranteed to
	// exist at path.
	//
	// Implementations release every per-request resource (connections,
	// response bodies, temporary files) before returning, on both paths.
	Synthesize(ctx context.Context, req Request, path string) (Result, error)
}
