// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/devblok/korugfx/src/gfx/vkr"
	_ "github.com/devblok/korugfx/src/gfx/vkr/native/soft"
	_ "github.com/devblok/korugfx/src/gfx/vkr/native/vulkan"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const usage = `korucli <command> [flags]

Commands:
  devices   print the properties of the graphics device as JSON
  pack      pack compiled shaders into a kar shader library
`

func main() {
	log.SetOutput(os.Stderr)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Could not load .env")
	}
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "devices":
		err = devices(os.Args[2:])
	case "pack":
		err = pack(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// deviceInfo is the JSON form of an opened device.
type deviceInfo struct {
	Driver               string
	Properties           interface{}
	Capabilities         []string
	TimestampFrequency   uint64
	ShaderIdentifierSize uint32
	TopLevelInstanceSize uint32
}

func devices(args []string) error {
	fs := flag.NewFlagSet("devices", flag.ExitOnError)
	driver := fs.String("driver", "vulkan", "Native driver to open")
	validation := fs.Bool("validation", false, "Load Vulkan validation layers")
	fs.Parse(args)

	logger := log.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(log.WarnLevel)
	dev, err := vkr.Open(*driver, nil, vkr.Config{Validation: *validation, Logger: logger})
	if err != nil {
		return err
	}
	defer dev.Release()

	info := deviceInfo{
		Driver:               *driver,
		Properties:           dev.Driver().Properties(),
		Capabilities:         dev.Capabilities().Names(),
		TimestampFrequency:   dev.TimestampFrequency(),
		ShaderIdentifierSize: dev.ShaderIdentifierSize(),
		TopLevelInstanceSize: dev.TopLevelInstanceSize(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}
