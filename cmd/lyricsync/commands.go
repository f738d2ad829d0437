package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"lyricsync/internal/app"
	"lyricsync/internal/config"
	"lyricsync/internal/ipc"
	"lyricsync/internal/lyrics"
)

const sendTimeout = 5 * time.Second

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")

	// logging first so config loading is logged at the requested level
	app.SetupLogging(level)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level == "" {
		app.SetupLogging(cfg.App.LogLevel)
	}
	return cfg, nil
}

func cmdRun() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Follow the player and publish the active lyrics line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			log.Info().Msg("Starting lyricsync")
			return a.Run(ctx)
		},
	}
}

func cmdFetch() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Search lyrics for a title and artist and print them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				title, _    = cmd.Flags().GetString("title")
				artist, _   = cmd.Flags().GetString("artist")
				duration, _ = cmd.Flags().GetDuration("duration")
				save, _     = cmd.Flags().GetBool("save")
			)
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := a.Coordinator().Fetch(cmd.Context(), title, artist, duration)
			if err != nil {
				log.Error().Err(err).Str("kind", lyrics.Kind(err)).Msg("Fetch failed")
				return err
			}
			if save {
				if err := a.Save(&lyrics.Track{Title: title, Artist: artist, Duration: duration}, doc); err != nil {
					return err
				}
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), lyrics.FormatLRCX(doc))
			return err
		},
	}
	cmd.Flags().StringP("title", "t", "", "Track title")
	cmd.Flags().StringP("artist", "a", "", "Track artist")
	cmd.Flags().DurationP("duration", "d", 0, "Track duration, used to rank candidates")
	cmd.Flags().Bool("save", false, "Store the result in the lyrics directory")
	return cmd
}

// send delivers one command to the running instance.
func send(cmd *cobra.Command, command string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	reply, err := ipc.Send(cfg.App.SocketPath, command, sendTimeout)
	if err != nil {
		return fmt.Errorf("is lyricsync running? %w", err)
	}
	if !reply.OK {
		return errors.New(reply.Error)
	}
	if reply.Offset != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "offset %+.2fs\n", *reply.Offset)
	}
	return nil
}

func cmdImport() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Use an LRC or LRCX file for the current track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			return send(cmd, "import "+path)
		},
	}
}

func cmdOffset() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offset <seconds>",
		Short: "Set the lyrics offset of the current track",
		Long:  "Set the lyrics offset of the current track. Positive values show lines earlier.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseFloat(args[0], 64); err != nil {
				return fmt.Errorf("offset must be a number of seconds: %w", err)
			}
			verb := "offset"
			if adjust, _ := cmd.Flags().GetBool("adjust"); adjust {
				verb = "adjust"
			}
			return send(cmd, verb+" "+args[0])
		},
	}
	cmd.Flags().Bool("adjust", false, "Add to the current offset instead of replacing it")
	return cmd
}

func cmdExclude() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exclude",
		Short: "Never fetch lyrics for the current track",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if album, _ := cmd.Flags().GetBool("album"); album {
				return send(cmd, "exclude album")
			}
			return send(cmd, "exclude track")
		},
	}
	cmd.Flags().Bool("album", false, "Exclude the whole album")
	return cmd
}

func cmdRefresh() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Search again for the current track, ignoring cached results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return send(cmd, "refresh")
		},
	}
}
