package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/aac"
	"github.com/mycophonic/pinna/config"
	"github.com/mycophonic/pinna/factory"
	"github.com/mycophonic/pinna/provider"
	"github.com/mycophonic/pinna/wav"
)

var errInvalidArgCount = errors.New("expected: <input> <output.wav> [offset_seconds] [duration_seconds]")

// decodeBlockFrames is how many frames runDecode pulls per Decode call
// (issued asynchronously and waited on) while draining a decoder to a
// WAV file.
const decodeBlockFrames = 4096

func runDecode(_ context.Context, cmd *cli.Command) error {
	if cmd.NArg() < 2 || cmd.NArg() > 4 {
		return fmt.Errorf("%w: got %d", errInvalidArgCount, cmd.NArg())
	}

	input := cmd.Args().Get(0)
	output := cmd.Args().Get(1)

	offsetSec, err := argSeconds(cmd, 2)
	if err != nil {
		return fmt.Errorf("parsing offset_seconds: %w", err)
	}

	durationSec, err := argSeconds(cmd, 3)
	if err != nil {
		return fmt.Errorf("parsing duration_seconds: %w", err)
	}

	cfg := config.Default()

	registry := provider.NewRegistry(cfg.HTTP.NewHTTPClient())
	fact := factory.New(factory.Config{
		Registry:       registry,
		IndexRangeHint: cfg.Transmux.IndexRangeBytes,
		// transmux.DefaultTransmuxer recovers raw AAC access units from
		// each fMP4 segment and re-wraps them as ADTS, so the platform
		// decoder opened over them needs the ADTS container hint.
		BuildTransmuxInner: func(dp provider.DataProvider) (pinna.Decoder, error) {
			return aac.New(dp, aac.FormatADTS), nil
		},
	})

	dec, err := createDecoderSync(fact, input, cfg)
	if err != nil {
		return err
	}

	if offsetSec > 0 {
		if err := dec.Seek(int64(offsetSec * dec.SampleRate())); err != nil {
			return fmt.Errorf("seeking to offset: %w", err)
		}
	}

	samples := drainDecoder(dec, durationSec)

	return writeWAV(output, samples, dec.Channels(), dec.SampleRate())
}

func argSeconds(cmd *cli.Command, index int) (float64, error) {
	raw := cmd.Args().Get(index)
	if raw == "" {
		return 0, nil
	}

	return strconv.ParseFloat(raw, 64)
}

func createDecoderSync(fact *factory.Factory, input string, cfg config.Config) (pinna.Decoder, error) {
	var (
		dec     pinna.Decoder
		loadErr error
	)

	done := make(chan struct{})

	fact.CreateDecoder(input, "", cfg.Output.SampleRate, cfg.Output.Channels,
		func(d pinna.Decoder) {
			dec = d
			close(done)
		},
		func(domain pinna.ErrorDomain, code pinna.ErrorCode) {
			loadErr = pinna.NewError(domain, code, nil)
			close(done)
		},
	)
	<-done

	if dec == nil {
		if loadErr != nil {
			return nil, loadErr
		}

		return nil, fmt.Errorf("decoding %s: %w", input, errInvalidArgCount)
	}

	return dec, nil
}

// drainDecoder pulls frames, blocking on each Decode callback, until EOF, or until
// durationSec worth of frames have been produced when durationSec > 0.
func drainDecoder(dec pinna.Decoder, durationSec float64) []float32 {
	var (
		out    []float32
		limit  int64 = -1
		pulled int64
	)

	if durationSec > 0 {
		limit = int64(durationSec * dec.SampleRate())
	}

	for !dec.EOF() {
		want := decodeBlockFrames
		if limit >= 0 {
			remaining := limit - pulled
			if remaining <= 0 {
				break
			}

			if int64(want) > remaining {
				want = int(remaining)
			}
		}

		var (
			frameCount int
			samples    []float32
		)

		done := make(chan struct{})

		dec.Decode(want, func(_ int64, fc int, s []float32) {
			frameCount = fc
			samples = append([]float32(nil), s...)
			close(done)
		}, false)
		<-done

		if frameCount == 0 {
			break
		}

		out = append(out, samples...)
		pulled += int64(frameCount)
	}

	return out
}

func writeWAV(output string, samples []float32, channels int, sampleRate float64) error {
	if output == "-" {
		return wav.Encode(os.Stdout, samples, channels, sampleRate, 0)
	}

	file, err := os.Create(output) //nolint:gosec // CLI tool creates user-specified output files
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer file.Close()

	return wav.Encode(file, samples, channels, sampleRate, 0)
}
