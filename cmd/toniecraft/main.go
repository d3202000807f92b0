// toniecraft - page-accurate audio container tooling for Toniebox figurines.
// Copyright (C) 2026 the toniecraft contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"go.mau.fi/util/exerrors"

	"github.com/toniecraft/toniecraft/pkg/tonie"
)

var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	cfg *config
)

func main() {
	app := &cli.App{
		Name:    "toniecraft",
		Usage:   "split, reorder and rebuild Toniebox audio containers",
		Version: fmt.Sprintf("%s (%s, built %s)", Tag, Commit, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "minimum log level (trace, debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a toniecraft.yaml config file",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			exportCommand,
			skipCommand,
			swapCommand,
			fillCommand,
			infoCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("Operation failed")
		os.Exit(1)
	}
}

func setup(c *cli.Context) error {
	cfg = exerrors.Must(loadConfig(c.String("config")))

	level := cfg.LogLevel
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	if level == "" {
		level = "info"
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(parsed).
		With().Timestamp().Logger()
	return nil
}

// cmdContext carries the logger to the library layer.
func cmdContext(c *cli.Context) context.Context {
	return log.WithContext(c.Context)
}

var exportCommand = &cli.Command{
	Name:      "export",
	Usage:     "Dump every chapter as a plain Ogg Opus file",
	ArgsUsage: "<input-tonie> [output-dir]",
	Action:    runExport,
}

func runExport(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: export <input-tonie> [output-dir]")
	}
	outputDir := cfg.OutputDir
	if c.NArg() >= 2 {
		outputDir = c.Args().Get(1)
	}
	if outputDir == "" {
		outputDir = "."
	}

	ctx := cmdContext(c)
	audio, err := parseTonieFile(ctx, c.Args().Get(0))
	if err != nil {
		return err
	}
	for k := 0; k < audio.ChapterCount(); k++ {
		name := filepath.Join(outputDir, fmt.Sprintf("chapter%d.ogg", k))
		err = writeFileAtomic(name, func(f *os.File) error {
			return tonie.ExportChapter(ctx, audio, f, k)
		})
		if err != nil {
			return fmt.Errorf("exporting chapter %d: %w", k, err)
		}
		log.Info().Int("chapter", k).Str("path", name).Msg("Exported chapter")
	}
	return nil
}

var skipCommand = &cli.Command{
	Name:      "skip",
	Usage:     "Rebuild a tonie file keeping only the listed chapters, in order",
	ArgsUsage: "<input-tonie> <output-file> <chapter-list>",
	Action:    runSkip,
}

func runSkip(c *cli.Context) error {
	if c.NArg() != 3 {
		return fmt.Errorf("usage: skip <input-tonie> <output-file> <chapter-list>")
	}
	chapters, err := parseChapterList(c.Args().Get(2))
	if err != nil {
		return err
	}

	ctx := cmdContext(c)
	audio, err := parseTonieFile(ctx, c.Args().Get(0))
	if err != nil {
		return err
	}
	return writeFileAtomic(c.Args().Get(1), func(f *os.File) error {
		return tonie.Compose(ctx, audio, f, chapters)
	})
}

var swapCommand = &cli.Command{
	Name:      "swap",
	Usage:     "Replace all chapters with the given Ogg Opus files",
	ArgsUsage: "<input-tonie> <output-file> <opus-file>...",
	Action:    runSwap,
}

func runSwap(c *cli.Context) error {
	if c.NArg() < 3 {
		return fmt.Errorf("usage: swap <input-tonie> <output-file> <opus-file>...")
	}
	return replaceChapters(c, c.Args().Slice()[2:])
}

var fillCommand = &cli.Command{
	Name:      "fill",
	Usage:     "Replace the audio content with a single Ogg Opus file",
	ArgsUsage: "<input-tonie> <output-file> <opus-file>",
	Action:    runFill,
}

func runFill(c *cli.Context) error {
	if c.NArg() != 3 {
		return fmt.Errorf("usage: fill <input-tonie> <output-file> <opus-file>")
	}
	return replaceChapters(c, c.Args().Slice()[2:3])
}

// replaceChapters is the shared swap/fill body: append each foreign file
// as a new chapter, then compose only the new chapters.
func replaceChapters(c *cli.Context, opusPaths []string) error {
	ctx := cmdContext(c)
	audio, err := parseTonieFile(ctx, c.Args().Get(0))
	if err != nil {
		return err
	}
	var chapters []int
	for _, path := range opusPaths {
		if err := checkOpusInput(path); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		k, err := audio.AppendChapter(ctx, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("appending %s: %w", path, err)
		}
		log.Info().Str("path", path).Int("chapter", k).Msg("Appended chapter")
		chapters = append(chapters, k)
	}
	return writeFileAtomic(c.Args().Get(1), func(f *os.File) error {
		return tonie.Compose(ctx, audio, f, chapters)
	})
}

var infoCommand = &cli.Command{
	Name:      "info",
	Usage:     "Inspect a tonie file",
	ArgsUsage: "<input-tonie>",
	Action:    runInfo,
}

func runInfo(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: info <input-tonie>")
	}
	ctx := cmdContext(c)
	audio, err := parseTonieFile(ctx, c.Args().Get(0))
	if err != nil {
		return err
	}

	fmt.Printf("timestamp:    %d\n", audio.Timestamp)
	fmt.Printf("pages:        %d\n", len(audio.Pages))
	fmt.Printf("payload:      %d bytes\n", audio.PayloadLength)
	fmt.Printf("hash:         %x (%s)\n", audio.PayloadHash, validity(audio.HashValid()))
	fmt.Printf("chapters:     %d\n", audio.ChapterCount())
	for k := 0; k < audio.ChapterCount(); k++ {
		seconds := float64(audio.ChapterDuration(k)) / 48000
		fmt.Printf("  chapter %-3d start page %-5d %7.1fs\n", k, audio.ChapterStarts[k], seconds)
	}
	return nil
}

func validity(ok bool) string {
	if ok {
		return "valid"
	}
	return "MISMATCH"
}

func parseTonieFile(ctx context.Context, path string) (*tonie.Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	log.Debug().Str("path", path).Msg("Parsing tonie file")
	return tonie.Parse(ctx, f)
}

// checkOpusInput sniffs the file so a WAV or MP3 handed to swap fails with
// a clear message instead of an Ogg framing error.
func checkOpusInput(path string) error {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return err
	}
	if !mtype.Is("audio/ogg") && !mtype.Is("application/ogg") {
		return fmt.Errorf("%s is %s, expected an Ogg Opus file", path, mtype.String())
	}
	return nil
}

func parseChapterList(list string) ([]int, error) {
	var chapters []int
	for _, part := range strings.Split(list, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid chapter list entry %q", part)
		}
		chapters = append(chapters, n)
	}
	return chapters, nil
}

// writeFileAtomic streams into a temp file next to the target and renames
// it into place on success, so a failed compose never leaves a truncated
// file behind.
func writeFileAtomic(path string, write func(f *os.File) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()
	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
