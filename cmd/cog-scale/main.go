package main

import (
	"fmt"
	"os"

	scale "github.com/TheCacophonyProject/cog-scale/internal/cog-scale"
	ctl "github.com/TheCacophonyProject/cog-scale/internal/cog-scale-ctl"
	"github.com/TheCacophonyProject/go-utils/logging"
)

var log *logging.Logger

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

var version = "<not set>"

func runMain() error {
	log = logging.NewLogger("info")
	if len(os.Args) < 2 {
		log.Info("Usage: cog-scale <scale|ctl> [args]")
		return fmt.Errorf("no subcommand given")
	}

	subcommand := os.Args[1]
	args := os.Args[2:]

	var err error
	switch subcommand {
	case "scale":
		err = scale.Run(args, version)
	case "ctl":
		err = ctl.Run(args, version)
	default:
		err = fmt.Errorf("unknown subcommand: %s", subcommand)
	}

	return err
}
