// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar

import (
	"bytes"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestAddAndWrite(t *testing.T) {
	c := qt.New(t)
	builder := NewBuilder(Header{
		Author:      "devblok",
		DateCreated: time.Now().Unix(),
		Version:     1,
	})
	c.Assert(builder.Add("test", strings.NewReader("idunvovkjnreovmegihjbrqlkmfrjnb")), qt.IsNil)
	c.Assert(builder.Add("test2", strings.NewReader("idunvovkjnreovmsdvwrvnervnreegihjbrqlkmfrjnb")), qt.IsNil)
	c.Assert(builder.Len(), qt.Equals, 2)

	var buf bytes.Buffer
	written, err := builder.WriteTo(&buf)
	c.Assert(err, qt.IsNil)
	c.Assert(written, qt.Equals, int64(buf.Len()))
	c.Assert(buf.Bytes()[:MagicLength], qt.DeepEquals, magic[:])
}

func TestAddDuplicate(t *testing.T) {
	c := qt.New(t)
	builder := NewBuilder(Header{})
	c.Assert(builder.Add("a", strings.NewReader("x")), qt.IsNil)
	c.Assert(builder.Add("a", strings.NewReader("y")), qt.ErrorIs, ErrDuplicate)
}

func TestWriteDeterministic(t *testing.T) {
	c := qt.New(t)
	build := func(order ...string) []byte {
		b := NewBuilder(Header{Author: "devblok", Version: 2})
		for _, name := range order {
			c.Assert(b.Add(name, strings.NewReader(name+name)), qt.IsNil)
		}
		var buf bytes.Buffer
		_, err := b.WriteTo(&buf)
		c.Assert(err, qt.IsNil)
		return buf.Bytes()
	}
	c.Assert(build("b", "a", "c"), qt.DeepEquals, build("c", "a", "b"))
}

func TestHeaderSizeNumber(t *testing.T) {
	c := qt.New(t)
	b := int64ToBinary(1234)
	c.Assert(b, qt.HasLen, HeaderSizeNumberLength)
	n, err := binaryToint64(b)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, int64(1234))

	_, err = binaryToint64(int64ToBinary(-1))
	c.Assert(err, qt.ErrorIs, ErrFileFormat)
}
