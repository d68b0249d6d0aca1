// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devblok/korugfx/src/utility/kar"
	qt "github.com/frankban/quicktest"
	"golang.org/x/exp/mmap"
)

var (
	testString1 = "idunvovkjnreovmegihjbrqlkmfrjnb"
	testString2 = "idunvovkjnreovmsdvwrvnervnreegihjbrqlkmfrjnb"
)

func buildArchive(c *qt.C) []byte {
	builder := kar.NewBuilder(kar.Header{
		Author:      "devblok",
		DateCreated: time.Now().Unix(),
		Version:     1,
	})
	c.Assert(builder.Add("test", strings.NewReader(testString1)), qt.IsNil)
	c.Assert(builder.Add("test2", strings.NewReader(testString2)), qt.IsNil)
	c.Assert(builder.Add("empty", strings.NewReader("")), qt.IsNil)

	var buf bytes.Buffer
	_, err := builder.WriteTo(&buf)
	c.Assert(err, qt.IsNil)
	return buf.Bytes()
}

func TestCreateAndRead(t *testing.T) {
	c := qt.New(t)
	ar, err := kar.Open(bytes.NewReader(buildArchive(c)))
	c.Assert(err, qt.IsNil)

	f, err := ar.Open("test")
	c.Assert(err, qt.IsNil)
	c.Assert(f.Size(), qt.Equals, int64(len(testString1)))

	result, err := io.ReadAll(f)
	c.Assert(err, qt.IsNil)
	c.Assert(string(result), qt.Equals, testString1)
}

func TestCreateAndReadAll(t *testing.T) {
	c := qt.New(t)
	ar, err := kar.Open(bytes.NewReader(buildArchive(c)))
	c.Assert(err, qt.IsNil)
	c.Assert(ar.Names(), qt.DeepEquals, []string{"empty", "test", "test2"})
	c.Assert(ar.Header().Author, qt.Equals, "devblok")

	data, err := ar.ReadAll("test2")
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, testString2)

	data, err = ar.ReadAll("empty")
	c.Assert(err, qt.IsNil)
	c.Assert(data, qt.HasLen, 0)

	_, err = ar.ReadAll("missing")
	c.Assert(err, qt.ErrorIs, kar.ErrNotFound)
}

func TestOpenmmap(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.TempDir(), "opentest.kar")
	c.Assert(os.WriteFile(path, buildArchive(c), 0o644), qt.IsNil)

	r, err := mmap.Open(path)
	c.Assert(err, qt.IsNil)
	defer r.Close()

	ar, err := kar.Open(r)
	c.Assert(err, qt.IsNil)
	data, err := ar.ReadAll("test")
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, testString1)
}

func TestOpenNotKar(t *testing.T) {
	c := qt.New(t)
	_, err := kar.Open(strings.NewReader("this is not an archive at all"))
	c.Assert(err, qt.ErrorIs, kar.ErrFileFormat)

	_, err = kar.Open(strings.NewReader("KAR"))
	c.Assert(err, qt.ErrorIs, kar.ErrFileFormat)

	truncated := buildArchive(c)[:30]
	_, err = kar.Open(bytes.NewReader(truncated))
	c.Assert(err, qt.ErrorIs, kar.ErrFileFormat)
}

func TestConcurrentReads(t *testing.T) {
	c := qt.New(t)
	ar, err := kar.Open(bytes.NewReader(buildArchive(c)))
	c.Assert(err, qt.IsNil)

	done := make(chan error)
	for i := 0; i < 8; i++ {
		go func() {
			data, err := ar.ReadAll("test2")
			if err == nil && string(data) != testString2 {
				err = io.ErrUnexpectedEOF
			}
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		c.Assert(<-done, qt.IsNil)
	}
}
