// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"fmt"
	"reflect"

	"github.com/devblok/korugfx/src/core"
	"github.com/devblok/korugfx/src/gfx/vkr"
	_ "github.com/devblok/korugfx/src/gfx/vkr/native/soft"
	_ "github.com/devblok/korugfx/src/gfx/vkr/native/vulkan"
	"github.com/gotk3/gotk3/glib"
	"github.com/gotk3/gotk3/gtk"
	log "github.com/sirupsen/logrus"
)

const (
	columnProperty = iota
	columnValue
)

func buildInterface() (*gtk.Application, error) {
	app, err := gtk.ApplicationNew("org.koru3d.korued", glib.APPLICATION_FLAGS_NONE)
	if err != nil {
		return nil, err
	}

	app.Connect("startup", func() {
		log.Info("Application starting")
	})

	app.Connect("activate", func() {
		log.Info("Application activating")
		win, err := inspectorWindow(app)
		if err != nil {
			log.Error(err)
			app.Quit()
			return
		}
		win.ShowAll()
	})

	app.Connect("shutdown", func() {
		log.Info("Application shutting down")
	})
	return app, nil
}

// deviceRows opens the configured device and describes it as
// property/value pairs.
func deviceRows() ([][2]string, error) {
	cfg, err := core.LoadConfiguration()
	if err != nil {
		return nil, err
	}
	dev, err := vkr.Open(cfg.Device.Driver, nil, cfg.Device.Vkr(log.StandardLogger(), nil))
	if err != nil {
		return nil, err
	}
	defer dev.Release()

	props := dev.Driver().Properties()
	rows := [][2]string{
		{"Driver", cfg.Device.Driver},
		{"Adapter", props.Name},
		{"Vendor", fmt.Sprintf("0x%04x", props.VendorID)},
		{"Device", fmt.Sprintf("0x%04x", props.DeviceID)},
		{"Discrete", fmt.Sprint(props.Discrete)},
		{"API", fmt.Sprintf("%d.%d.%d", props.APIVersion>>22, (props.APIVersion>>12)&0x3ff, props.APIVersion&0xfff)},
		{"Queues", fmt.Sprint(props.Queues)},
		{"Timestamp frequency", fmt.Sprint(dev.TimestampFrequency())},
	}
	for _, name := range dev.Capabilities().Names() {
		rows = append(rows, [2]string{"Capability", name})
	}
	rows = appendFields(rows, "Feature", reflect.ValueOf(props.Features))
	rows = appendFields(rows, "Limit", reflect.ValueOf(props.Limits))
	return rows, nil
}

func appendFields(rows [][2]string, prefix string, v reflect.Value) [][2]string {
	for i := 0; i < v.NumField(); i++ {
		rows = append(rows, [2]string{
			prefix + " " + v.Type().Field(i).Name,
			fmt.Sprint(v.Field(i).Interface()),
		})
	}
	return rows
}

func inspectorWindow(app *gtk.Application) (*gtk.ApplicationWindow, error) {
	rows, err := deviceRows()
	if err != nil {
		return nil, err
	}

	store, err := gtk.ListStoreNew(glib.TYPE_STRING, glib.TYPE_STRING)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := store.Set(store.Append(), []int{columnProperty, columnValue}, []interface{}{row[0], row[1]}); err != nil {
			return nil, err
		}
	}

	view, err := gtk.TreeViewNewWithModel(store)
	if err != nil {
		return nil, err
	}
	for col, title := range []string{"Property", "Value"} {
		renderer, err := gtk.CellRendererTextNew()
		if err != nil {
			return nil, err
		}
		column, err := gtk.TreeViewColumnNewWithAttribute(title, renderer, "text", col)
		if err != nil {
			return nil, err
		}
		view.AppendColumn(column)
	}

	scroll, err := gtk.ScrolledWindowNew(nil, nil)
	if err != nil {
		return nil, err
	}
	scroll.Add(view)

	win, err := gtk.ApplicationWindowNew(app)
	if err != nil {
		return nil, err
	}
	win.SetTitle("Koru3D device inspector")
	win.SetDefaultSize(600, 480)
	win.Add(scroll)
	return win, nil
}
