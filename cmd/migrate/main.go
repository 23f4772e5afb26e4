// Command migrate applies schema migrations outside the server process, for
// deploys where the database user running the app cannot alter schema.
package main

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"gempool-go/internal/config"
	"gempool-go/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	steps := flag.Int("steps", 1, "number of migrations to roll back (down only)")
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	st, err := store.Open(cfg.Database.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer st.Close()

	switch cmd {
	case "up":
		if err := store.MigrateUp(st.DB()); err != nil {
			log.WithError(err).Fatal("migrate up")
		}
		log.Info("migrations applied")
	case "down":
		if err := store.MigrateDown(st.DB(), *steps); err != nil {
			log.WithError(err).Fatal("migrate down")
		}
		log.Infof("rolled back %d migration(s)", *steps)
	case "version":
		version, dirty, err := store.MigrateVersion(st.DB())
		if err != nil {
			log.WithError(err).Fatal("migrate version")
		}
		fmt.Printf("version %d dirty=%v\n", version, dirty)
	default:
		fmt.Fprintf(os.Stderr, "usage: migrate [up|down|version]\n")
		os.Exit(2)
	}
}
