package main

import (
	"flag"
	"log"

	"github.com/danmuck/edgestream/internal/config"
)

func main() {
	kind := flag.String("kind", "toml", "template format: toml|yaml")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to cmd/streamctl/config.<kind>)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	path := *input
	if !*validate {
		path = *output
	}
	if path == "" {
		path = "cmd/streamctl/config." + *kind
	}

	if *validate {
		cfg, err := config.Load(path)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated config at %s (transport=%s)", path, cfg.Transport)
		return
	}

	if err := config.WriteTemplate(path, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, path)
}
