package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/loqalabs/loqa-sign/internal/bus"
	"github.com/loqalabs/loqa-sign/internal/config"
	"github.com/loqalabs/loqa-sign/internal/settings"
	"github.com/loqalabs/loqa-sign/internal/translate"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'translate', 'settings' or 'version'")
		os.Exit(2)
	}

	_ = godotenv.Load()

	var err error
	switch os.Args[1] {
	case "translate":
		err = runTranslate(os.Args[2:])
	case "settings":
		err = runSettings(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runTranslate(args []string) error {
	fs := flag.NewFlagSet("translate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	file := fs.String("file", "", "Video file or file:// locator to upload")
	baseURL := fs.String("url", "", "Inference server base URL (overrides config)")
	_ = fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("-file is required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *baseURL != "" {
		cfg.Translate.BaseURL = *baseURL
	}

	client := translate.NewClient(cfg.Translate, quietLogger())
	res, err := client.Upload(context.Background(), *file)
	if err != nil {
		return err
	}
	fmt.Println(res.Text())
	return nil
}

func runSettings(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("expected 'settings get' or 'settings set'")
	}
	fs := flag.NewFlagSet("settings "+args[0], flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	user := fs.String("user", "", "User id")
	voice := fs.String("voice", "", "Voice identifier")
	rate := fs.Float64("rate", 0, "Speech rate (> 0)")
	pitch := fs.Float64("pitch", -1, "Speech pitch (0-2)")
	_ = fs.Parse(args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := settings.OpenStore(ctx, cfg.Settings.Path, settings.DefaultsFromConfig(cfg.Settings), quietLogger())
	if err != nil {
		return err
	}
	defer store.Close()

	current, err := store.Load(ctx, *user)
	if err != nil {
		return err
	}

	switch args[0] {
	case "get":
	case "set":
		if *voice != "" {
			current.VoiceID = *voice
		}
		if *rate != 0 {
			current.Rate = *rate
		}
		if *pitch >= 0 {
			current.Pitch = *pitch
		}
		// Announce the change so devices with their own settings store see it.
		client, err := bus.Connect(ctx, cfg.Bus, quietLogger())
		if err != nil {
			fmt.Fprintln(os.Stderr, "warning: bus unavailable, change is saved locally but not announced")
		}
		defer client.Close()
		if err := settings.NewService(store, client, quietLogger()).Save(ctx, *user, current); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown settings command %q", args[0])
	}

	doc := current.Document()
	fmt.Printf("voiceSetting=%s speedSetting=%g pitchSetting=%g\n", doc.VoiceSetting, doc.SpeedSetting, doc.PitchSetting)
	return nil
}
