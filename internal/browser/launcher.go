package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/launcher"
)

// Launcher starts a browser an engine can drive over CDP
type Launcher interface {
	Launch(ctx context.Context) (*Instance, error)
}

// Instance is a running browser. Release must be called once the engine is
// done with it.
type Instance struct {
	ControlURL string
	release    func(ctx context.Context) error
}

func (i *Instance) Release(ctx context.Context) error {
	if i == nil || i.release == nil {
		return nil
	}
	return i.release(ctx)
}

// LocalLauncher runs Chrome as a child process of this service
type LocalLauncher struct {
	// Bin is the Chrome binary; empty lets rod find or download one
	Bin string
}

func (l *LocalLauncher) Launch(ctx context.Context) (*Instance, error) {
	ln := launcher.New().
		Headless(true).
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("hide-scrollbars").
		Set("mute-audio")
	if l.Bin != "" {
		ln = ln.Bin(l.Bin)
	}

	type launched struct {
		url string
		err error
	}
	done := make(chan launched, 1)
	go func() {
		u, err := ln.Launch()
		done <- launched{u, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("failed to launch chrome: %w", res.err)
		}
		return &Instance{
			ControlURL: res.url,
			release: func(context.Context) error {
				ln.Kill()
				ln.Cleanup()
				return nil
			},
		}, nil
	case <-ctx.Done():
		// Reap the process whenever the launch finishes.
		go func() {
			<-done
			ln.Kill()
			ln.Cleanup()
		}()
		return nil, fmt.Errorf("chrome launch: %w", ctx.Err())
	}
}
