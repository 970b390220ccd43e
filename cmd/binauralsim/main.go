// Command binauralsim runs the real-time binaural renderer: it loads
// a filter set and sound files per the YAML settings file, starts the
// OSC control surface, and streams the rendered stereo signal to the
// default audio device.
//
// Usage:
//
//	binauralsim [flags]
//
// Examples:
//
//	binauralsim -config settings.yaml
//	binauralsim -config settings.yaml -list-filters
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cwbudde/algo-binaural/config"
	"github.com/cwbudde/algo-binaural/control"
	"github.com/cwbudde/algo-binaural/engine"
	"github.com/cwbudde/algo-binaural/filter"
	"github.com/cwbudde/algo-binaural/playback"
	"github.com/cwbudde/algo-binaural/sound"
)

func main() {
	configPath := flag.String("config", "settings.yaml", "path of the YAML settings file")
	listFilters := flag.Bool("list-filters", false, "load the filter list, print its keys and exit")
	quiet := flag.Bool("quiet", false, "suppress startup logging")
	flag.Parse()

	if *quiet {
		log.SetOutput(io.Discard)
	}

	if err := run(*configPath, *listFilters); err != nil {
		fmt.Fprintf(os.Stderr, "binauralsim: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, listFilters bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := filter.NewStore(cfg.FilterSize, cfg.BlockSize, cfg.SamplingRate)
	if err != nil {
		return err
	}
	if err := store.LoadList(cfg.FilterList); err != nil {
		return err
	}
	log.Printf("loaded %d filters (%d partitions of %d samples)",
		store.Len(), store.Partitions(), store.BlockSize())

	if listFilters {
		for _, k := range store.Keys() {
			fmt.Println(k)
		}
		return nil
	}

	reg, err := sound.NewRegistry(cfg.BlockSize, cfg.MaxChannels)
	if err != nil {
		return err
	}
	for _, path := range cfg.SoundFiles {
		events, err := sound.LoadFile(path, cfg.BlockSize, cfg.SamplingRate, cfg.LoopSound)
		if err != nil {
			return err
		}
		for _, e := range events {
			if err := reg.Add(e); err != nil {
				return err
			}
			log.Printf("registered sound %q on channel %d (%d samples)", e.ID(), e.Channel(), e.Len())
		}
	}

	eng, err := engine.New(engine.Config{
		Channels:     cfg.MaxChannels,
		Loudness:     cfg.LoudnessFactor,
		Crossfade:    cfg.EnableCrossfading,
		UseHeadphone: cfg.UseHeadphoneFilter,
	}, store, reg)
	if err != nil {
		return err
	}
	defer eng.Close()

	receiver, err := control.NewReceiver(cfg.OSCAddress, eng)
	if err != nil {
		return err
	}
	defer receiver.Close()

	serveErr := make(chan error, 1)
	go func() { serveErr <- receiver.Serve() }()
	log.Printf("control surface listening on %s", receiver.Addr())

	player, err := playback.NewPlayer(eng, cfg.SamplingRate)
	if err != nil {
		return err
	}
	defer player.Close()

	player.Start()
	log.Printf("rendering %d channels, block size %d, latency >= %v",
		cfg.MaxChannels, cfg.BlockSize, playback.Latency(cfg.BlockSize, cfg.SamplingRate))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Printf("received %v, shutting down", sig)
	case err := <-serveErr:
		return fmt.Errorf("control surface stopped: %w", err)
	}

	if n := eng.ClippedBlocks(); n > 0 {
		log.Printf("warning: %d of %d blocks exceeded full scale and were clipped", n, eng.Steps())
	}
	return nil
}
