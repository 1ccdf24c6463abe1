package tts

// Request is a single synthesis job.
type Request struct {
	// Style is the expressive speaking style (e.g. "whispering").
	// Providers without style support ignore it.
	Style string

	// Text is the text to speak. It may be empty; providers decide whether
	// that is an error.
	Text string
}

// Result describes a successfully written audio file.
type Result struct {
	// Path is where the audio was written.
	Path string

	// Bytes is the size of the written file.
	Bytes int64

	// Format is the provider-specific output format identifier
	// (e.g. "audio-16khz-32kbitrate-mono-mp3").
	Format string
}
