// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"bytes"
	"testing"

	"github.com/devblok/korugfx/src/utility/kar"
	qt "github.com/frankban/quicktest"
	"github.com/gobuffalo/packd"
)

func TestPackShaders(t *testing.T) {
	c := qt.New(t)
	box := packd.NewMemoryBox()
	c.Assert(box.AddString("triangle.vert.spv", "vertex"), qt.IsNil)
	c.Assert(box.AddString("triangle.frag.spv", "fragment"), qt.IsNil)
	c.Assert(box.AddString("triangle.vert", "source"), qt.IsNil)

	b := kar.NewBuilder(kar.Header{Version: 1})
	count, err := packShaders(box, b)
	c.Assert(err, qt.IsNil)
	c.Assert(count, qt.Equals, 2)

	var buf bytes.Buffer
	_, err = b.WriteTo(&buf)
	c.Assert(err, qt.IsNil)
	ar, err := kar.Open(bytes.NewReader(buf.Bytes()))
	c.Assert(err, qt.IsNil)
	c.Assert(ar.Names(), qt.DeepEquals, []string{"triangle.frag.spv", "triangle.vert.spv"})
	data, err := ar.ReadAll("triangle.frag.spv")
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, "fragment")
}
