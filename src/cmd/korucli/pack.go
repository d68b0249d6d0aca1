// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/core"
	"github.com/devblok/korugfx/src/utility/kar"
	"github.com/gobuffalo/packd"
	"github.com/gobuffalo/packr"
	log "github.com/sirupsen/logrus"
)

type walker interface {
	Walk(packd.WalkFunc) error
}

// packShaders adds every compiled shader of box to b and returns how
// many were added.
func packShaders(box walker, b *kar.Builder) (int, error) {
	var count int
	err := box.Walk(func(name string, f packd.File) error {
		name = filepath.ToSlash(name)
		if _, ok := core.StageOf(name); !ok {
			log.WithField("file", name).Debug("Skipped, not a compiled shader")
			return nil
		}
		if err := b.Add(name, f); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

func pack(args []string) error {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	dir := fs.String("dir", "./shaders", "Directory of compiled shaders")
	out := fs.String("o", "shaders.kar", "Shader library to write")
	version := fs.Int64("version", 1, "Library version")
	fs.Parse(args)

	abs, err := filepath.Abs(*dir)
	if err != nil {
		return err
	}
	box := packr.NewBox(abs)

	b := kar.NewBuilder(kar.Header{
		Author:      "korucli",
		DateCreated: time.Now().Unix(),
		Version:     *version,
	})
	count, err := packShaders(box, b)
	if err != nil {
		return err
	}
	if count == 0 {
		return errors.Newf("no compiled shaders in %s", abs)
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer f.Close()
	written, err := b.WriteTo(f)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"shaders": count, "bytes": written}).Info("Shader library written")
	return nil
}
