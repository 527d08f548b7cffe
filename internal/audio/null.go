// Package audio provides the playback collaborator used when no device
// audio is available.
package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/DoyleJ11/landmark-client/internal/playback"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrUnknownHandle = errors.New("unknown audio handle")

// NullPlayer checks that assets exist and tracks handles, but produces no
// sound. Every call is logged.
type NullPlayer struct {
	log *zap.Logger

	mu      sync.Mutex
	loaded  map[playback.Handle]string
	playing map[playback.Handle]time.Time
}

func NewNullPlayer(log *zap.Logger) *NullPlayer {
	if log == nil {
		log = zap.NewNop()
	}
	return &NullPlayer{
		log:     log.Named("audio"),
		loaded:  make(map[playback.Handle]string),
		playing: make(map[playback.Handle]time.Time),
	}
}

func (p *NullPlayer) Load(asset string) (playback.Handle, error) {
	if _, err := os.Stat(asset); err != nil {
		return "", fmt.Errorf("load %s: %w", asset, err)
	}
	h := playback.Handle(uuid.NewString())

	p.mu.Lock()
	p.loaded[h] = asset
	p.mu.Unlock()

	p.log.Debug("loaded", zap.String("handle", string(h)), zap.String("asset", asset))
	return h, nil
}

func (p *NullPlayer) Play(h playback.Handle, from time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.loaded[h]; !ok {
		return ErrUnknownHandle
	}
	p.playing[h] = time.Now().Add(-from)
	p.log.Debug("play", zap.String("handle", string(h)), zap.Duration("from", from))
	return nil
}

func (p *NullPlayer) Stop(h playback.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.loaded[h]; !ok {
		return ErrUnknownHandle
	}
	if started, ok := p.playing[h]; ok {
		p.log.Debug("stop", zap.String("handle", string(h)), zap.Duration("position", time.Since(started)))
		delete(p.playing, h)
	}
	return nil
}

func (p *NullPlayer) Unload(h playback.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.loaded[h]; !ok {
		return ErrUnknownHandle
	}
	delete(p.loaded, h)
	delete(p.playing, h)
	p.log.Debug("unloaded", zap.String("handle", string(h)))
	return nil
}

// Loaded reports how many handles are still held.
func (p *NullPlayer) Loaded() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.loaded)
}
