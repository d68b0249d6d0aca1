// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar

import (
	"bytes"
	"io"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/pierrec/lz4"
)

// NewBuilder creates a new Builder. Do not fill the Index in
// the header, it will be overwritten anyway.
func NewBuilder(header Header) *Builder {
	return &Builder{
		header: header,
		files:  make(map[string]*compressedFile),
	}
}

type compressedFile struct {
	// Size before compression
	Size int64

	Data []byte
}

// Builder is the high level builder for the archive format.
// Arhives are versioned and cannot be appended to, This Builder
// is the way to create an archive. Files are compressed as they are
// added, then bundled together and written out with WriteTo.
type Builder struct {
	header Header

	mutex sync.Mutex
	files map[string]*compressedFile
}

// Add compresses everything read from r into the builder under the
// given name. Will block until lz4 finishes compression. Is safe
// to use concurrently in different goroutines.
func (b *Builder) Add(name string, r io.Reader) error {
	b.mutex.Lock()
	_, exists := b.files[name]
	b.mutex.Unlock()
	if exists {
		return errors.Wrap(ErrDuplicate, name)
	}

	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	written, err := io.Copy(writer, r)
	if err != nil {
		return errors.Wrapf(err, "compress %s", name)
	}
	if err := writer.Close(); err != nil {
		return errors.Wrapf(err, "compress %s", name)
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if _, exists := b.files[name]; exists {
		return errors.Wrap(ErrDuplicate, name)
	}
	b.files[name] = &compressedFile{Size: written, Data: buf.Bytes()}
	return nil
}

// Len returns the number of files added.
func (b *Builder) Len() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.files)
}

// WriteTo bundles and writes all of the files added to the Builder
// into a kar archive that is ready to use. Files are written in name
// order so equal input gives equal archives.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	names := make([]string, 0, len(b.files))
	for name := range b.files {
		names = append(names, name)
	}
	sort.Strings(names)

	header := b.header
	header.Index = make([]IndexEntry, 0, len(names))
	var offset int64
	for _, name := range names {
		f := b.files[name]
		header.Index = append(header.Index, IndexEntry{
			Name:           name,
			Offset:         offset,
			Size:           f.Size,
			CompressedSize: int64(len(f.Data)),
		})
		offset += int64(len(f.Data))
	}

	rawHeader, err := gobEncode(header)
	if err != nil {
		return 0, err
	}

	var total int64
	write := func(p []byte) error {
		n, err := w.Write(p)
		total += int64(n)
		return err
	}
	if err := write(magic[:]); err != nil {
		return total, errors.Wrap(err, "write magic")
	}
	if err := write(int64ToBinary(int64(len(rawHeader)))); err != nil {
		return total, errors.Wrap(err, "write header size")
	}
	if err := write(rawHeader); err != nil {
		return total, errors.Wrap(err, "write header")
	}
	for _, name := range names {
		if err := write(b.files[name].Data); err != nil {
			return total, errors.Wrapf(err, "write %s", name)
		}
	}
	return total, nil
}
