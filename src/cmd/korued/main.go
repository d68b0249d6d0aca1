// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"os"

	"github.com/gotk3/gotk3/gtk"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

func init() {
	gtk.Init(&os.Args)
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Could not load .env")
	}
	app, err := buildInterface()
	if err != nil {
		log.Fatal(err)
	}
	os.Exit(app.Run(os.Args))
}
