// Command pinna decodes an audio file (or URL) to a WAV file:
//
//	pinna <input> <output.wav> [offset_seconds] [duration_seconds]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/version"
)

func main() {
	ctx := context.Background()

	appl := &cli.Command{
		Name:      version.Name(),
		Usage:     "Decode audio to WAV",
		Version:   version.Version() + " (" + version.Commit() + " - " + version.Date() + ")",
		ArgsUsage: "<input> <output.wav> [offset_seconds] [duration_seconds]",
		Action:    runDecode,
	}

	if err := appl.Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)

		var de *pinna.DecoderError
		if errors.As(err, &de) {
			os.Exit(int(de.Code))
		}

		os.Exit(1)
	}
}
