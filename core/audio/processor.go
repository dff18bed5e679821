package audio

import (
	"context"
	"time"
)

// Transcoder converts an input file into the output's container and codec.
type Transcoder interface {
	Transcode(ctx context.Context, inputFile, outputFile, bitrate string) error
}

// Prober reads stream metadata.
type Prober interface {
	GetAudioDuration(ctx context.Context, inputFile string) (time.Duration, error)
}

// Processor defines the audio operations the retrieval path needs.
type Processor interface {
	Transcoder
	Prober
}
