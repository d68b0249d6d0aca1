// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"flag"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/utility/kar"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/mmap"
)

func init() {
	currentUserName = "unknown"
	if u, err := user.Current(); err == nil {
		currentUserName = u.Name
	}
}

var (
	currentUserName string
	author          = flag.String("author", "", "Set the author of the package when compressing")
	version         = flag.Int64("version", 1, "Archive version number to create it with")
	extract         = flag.String("e", "", "Extract the file given")
	compress        = flag.String("c", "", "Compress the given file/folder")
	list            = flag.String("l", "", "List the files of the archive given")
	dstFile         = flag.String("f", "out.kar", "Destination file, or folder when extracting")
	silent          = flag.Bool("s", false, "Silent")
)

func main() {
	flag.Parse()
	if *silent {
		log.SetLevel(log.WarnLevel)
	}

	var err error
	switch {
	case *extract != "" && *compress != "":
		err = errors.New("only one operation at a time")
	case *extract != "":
		err = extractFiles()
	case *compress != "":
		err = compressFiles()
	case *list != "":
		err = listFiles()
	default:
		flag.PrintDefaults()
	}
	if err != nil {
		log.Fatal(err)
	}
}

func openArchive(path string) (*kar.Archive, func() error, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "mmap.Open()")
	}
	ar, err := kar.Open(r)
	if err != nil {
		r.Close()
		return nil, nil, errors.Wrapf(err, "open %s", path)
	}
	return ar, r.Close, nil
}

func listFiles() error {
	ar, closer, err := openArchive(*list)
	if err != nil {
		return err
	}
	defer closer()

	h := ar.Header()
	log.WithFields(log.Fields{
		"author":  h.Author,
		"version": h.Version,
		"created": time.Unix(h.DateCreated, 0),
	}).Info(*list)
	for _, e := range h.Index {
		log.WithFields(log.Fields{"size": e.Size, "compressed": e.CompressedSize}).Info(e.Name)
	}
	return nil
}

func extractFiles() error {
	ar, closer, err := openArchive(*extract)
	if err != nil {
		return err
	}
	defer closer()

	dst := *dstFile
	if dst == "out.kar" {
		dst = "."
	}
	for _, name := range ar.Names() {
		path := filepath.Join(dst, filepath.FromSlash(name))
		if _, err := os.Stat(path); err == nil {
			return errors.Newf("%s exists, will not overwrite", path)
		}
		data, err := ar.ReadAll(name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		log.WithField("size", len(data)).Info(path)
	}
	return nil
}

func compressFiles() error {
	if _, err := os.Stat(*dstFile); err == nil {
		return errors.New("destination file exists, will not overwrite")
	}

	var filesToCompress []string
	if err := filepath.Walk(*compress, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		filesToCompress = append(filesToCompress, path)
		return nil
	}); err != nil {
		return err
	}

	name := *author
	if name == "" {
		name = currentUserName
	}
	karBuilder := kar.NewBuilder(kar.Header{
		Author:      name,
		DateCreated: time.Now().Unix(),
		Version:     *version,
	})

	root := *compress
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		root = filepath.Dir(root)
	}
	for _, ftc := range filesToCompress {
		rel, err := filepath.Rel(root, ftc)
		if err != nil {
			return err
		}
		f, err := os.Open(ftc)
		if err != nil {
			return err
		}
		err = karBuilder.Add(filepath.ToSlash(rel), f)
		f.Close()
		if err != nil {
			return err
		}
		log.Info(rel)
	}

	dst, err := os.Create(*dstFile)
	if err != nil {
		return err
	}
	defer dst.Close()
	written, err := karBuilder.WriteTo(dst)
	if err != nil {
		return err
	}
	log.WithField("bytes", written).Info("Archive written")
	return nil
}
