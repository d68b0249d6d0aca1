// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/core"
	"github.com/devblok/korugfx/src/gfx/vkr"
	_ "github.com/devblok/korugfx/src/gfx/vkr/native/vulkan"
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
	"golang.org/x/sync/errgroup"
)

func init() {
	runtime.LockOSThread()
}

var frameCounter atomic.Int64

// Profiling
var (
	cpuProfile   = flag.String("cpuprof", "", "Profile CPU usage to file")
	memProfile   = flag.String("memprof", "", "Profile memory usage into a file")
	traceProfile = flag.String("trace", "", "Trace output for profiling")
	debug        = flag.Bool("vkdbg", false, "Load Vulkan validation layers")
	verbose      = flag.Bool("v", false, "Debug logging")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Could not load .env")
	}
	configuration, err := core.LoadConfiguration()
	if err != nil {
		return err
	}
	if *debug {
		configuration.Device.Debug = true
		configuration.Device.Validation = true
	}
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			return err
		}
		defer pprof.StopCPUProfile()
	}

	if *traceProfile != "" {
		f, err := os.Create(*traceProfile)
		if err != nil {
			return err
		}
		if err := trace.Start(f); err != nil {
			return err
		}
		defer trace.Stop()
	}

	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return errors.Wrap(err, "sdl.Init()")
	}
	defer sdl.Quit()

	if err := sdl.VulkanLoadLibrary(""); err != nil {
		return errors.Wrap(err, "sdl.VulkanLoadLibrary()")
	}
	defer sdl.VulkanUnloadLibrary()

	win, err := newWindow(configuration.Window.Title, configuration.Window.Width, configuration.Window.Height)
	if err != nil {
		return err
	}
	defer win.Destroy()

	cache, err := core.LoadPipelineCache(configuration.PipelineCache)
	if err != nil {
		log.WithError(err).Warn("Pipeline cache ignored")
	}
	device, err := vkr.Open(configuration.Device.Driver, win, configuration.Device.Vkr(log.StandardLogger(), cache))
	if err != nil {
		return err
	}
	defer device.Release()

	r, err := newRenderer(device, win, configuration)
	if err != nil {
		return err
	}
	defer r.release()

	timeService := core.NewTime(configuration.Time)
	defer timeService.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	/* Frame counter loop */
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				log.WithFields(log.Fields{
					"fps":   frameCounter.Swap(0),
					"cgo":   runtime.NumCgoCall(),
					"frame": device.FrameCount(),
				}).Debug("Frame count")
			}
		}
	})

	/* Renderer loop */
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				log.Info("Render loop exited")
				return nil
			case <-timeService.FpsTicker().C:
				if err := r.frame(timeService.Elapsed()); err != nil {
					return err
				}
				frameCounter.Add(1)
			}
		}
	})

	/* Event loop */
EventLoop:
	for {
		select {
		case <-ctx.Done():
			break EventLoop
		case <-timeService.EventTicker().C:
			for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
				switch et := event.(type) {
				case *sdl.KeyboardEvent:
					if et.Keysym.Sym == sdl.K_ESCAPE {
						cancel()
					}
				case *sdl.WindowEvent:
					if et.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
						r.resize(win.drawableSize())
					}
				case *sdl.QuitEvent:
					cancel()
				}
			}
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := device.WaitForGPU(); err != nil {
		return err
	}
	if configuration.PipelineCache != "" {
		if err := core.SavePipelineCache(configuration.PipelineCache, device, log.WithField("component", "koru")); err != nil {
			log.WithError(err).Warn("Pipeline cache not saved")
		}
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := pprof.WriteHeapProfile(f); err != nil {
			return err
		}
	}
	return nil
}

// transform is the push constant block of the triangle shader.
func transform(elapsed time.Duration, aspect float32) glm.Mat4 {
	projection := glm.Ortho2D(-aspect, aspect, -1, 1)
	rotation := glm.HomogRotate3DZ(float32(elapsed.Seconds()))
	return projection.Mul4(rotation)
}
