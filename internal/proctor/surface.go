package proctor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// AmbientSurface is the page-global client state a session takes exclusive
// control of while Active.
type AmbientSurface interface {
	EnterFullscreen() error
	ExitFullscreen() error
	LockViewport() error
	RestoreViewport() error
}

// SurfaceLease is the scoped hold on an AmbientSurface. Release restores
// everything the lease mutated and runs at most once.
type SurfaceLease struct {
	surface    AmbientSurface
	log        zerolog.Logger
	viewport   bool
	fullscreen bool
	fsErr      error
	once       sync.Once
	releaseErr error
}

// AcquireSurface locks the viewport and attempts fullscreen. A fullscreen
// failure does not fail the acquisition; it is reported by FullscreenErr.
func AcquireSurface(surface AmbientSurface, log zerolog.Logger) (*SurfaceLease, error) {
	lease := &SurfaceLease{
		surface: surface,
		log:     log.With().Str("component", "ambient_surface").Logger(),
	}

	if err := surface.LockViewport(); err != nil {
		return nil, fmt.Errorf("lock viewport: %w", err)
	}
	lease.viewport = true

	if err := surface.EnterFullscreen(); err != nil {
		lease.fsErr = err
		lease.log.Info().Err(err).Msg("Fullscreen entry failed, continuing in degraded mode")
	} else {
		lease.fullscreen = true
	}

	return lease, nil
}

// FullscreenErr returns the error of the fullscreen entry attempt, if any.
func (l *SurfaceLease) FullscreenErr() error {
	return l.fsErr
}

// Release exits fullscreen (best-effort) and restores the viewport.
func (l *SurfaceLease) Release() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		var errs []error
		if l.fullscreen {
			if err := l.surface.ExitFullscreen(); err != nil {
				l.log.Debug().Err(err).Msg("Fullscreen exit failed")
			}
		}
		if l.viewport {
			if err := l.surface.RestoreViewport(); err != nil {
				if errors.Is(err, ErrSurfaceUnbound) {
					// The client is gone and took its viewport with it.
					l.log.Debug().Err(err).Msg("Viewport restore skipped, no client bound")
				} else {
					l.log.Error().Err(err).Msg("Viewport restore failed, client left zoom-locked")
				}
				errs = append(errs, fmt.Errorf("restore viewport: %w", err))
			}
		}
		l.releaseErr = errors.Join(errs...)
	})
	return l.releaseErr
}
