package main

import (
	"flag"

	"github.com/danmuck/resultstream/internal/config"
	"github.com/danmuck/resultstream/internal/logging"
	"github.com/rs/zerolog/log"
)

const defaultPath = "cmd/streamctl/config.toml"

func main() {
	kind := flag.String("kind", "collector", "config kind: collector|production")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to cmd/streamctl/config.toml)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()
	logging.ConfigureRuntime()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath
		}
		cfg, err := config.LoadCollectorConfig(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("configgen: invalid config")
		}
		log.Info().Str("path", path).Str("channel", cfg.Channel).Msg("configgen: validated collector config")
		return
	}

	if _, err := config.Template(*kind); err != nil {
		log.Fatal().Err(err).Msg("configgen: template")
	}
	target := *output
	if target == "" {
		target = defaultPath
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal().Err(err).Str("path", target).Msg("configgen: write template")
	}
	log.Info().Str("kind", *kind).Str("path", target).Msg("configgen: wrote config template")
}
