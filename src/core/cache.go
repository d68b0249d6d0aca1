// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/utility/kar"
	"github.com/sirupsen/logrus"
)

// pipelineCacheEntry is the archive entry holding the driver blob.
const pipelineCacheEntry = "pipeline.cache"

// LoadPipelineCache reads a persisted pipeline cache. A missing file is
// an empty cache.
func LoadPipelineCache(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read pipeline cache")
	}
	ar, err := kar.Open(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "pipeline cache %s", path)
	}
	return ar.ReadAll(pipelineCacheEntry)
}

// SavePipelineCache writes the pipeline cache of src to path. The file
// is replaced atomically.
func SavePipelineCache(path string, src PipelineCacheSource, log *logrus.Entry) error {
	data, err := src.PipelineCacheData()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	b := kar.NewBuilder(kar.Header{
		Author:      "korugfx",
		DateCreated: time.Now().Unix(),
		Version:     1,
	})
	if err := b.Add(pipelineCacheEntry, bytes.NewReader(data)); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".pipeline-*")
	if err != nil {
		return errors.Wrap(err, "create pipeline cache")
	}
	defer os.Remove(tmp.Name())
	written, err := b.WriteTo(tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(err, "write pipeline cache")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "write pipeline cache")
	}
	log.WithFields(logrus.Fields{"size": len(data), "written": written}).Debug("Pipeline cache saved")
	return nil
}
