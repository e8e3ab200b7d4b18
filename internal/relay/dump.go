package relay

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrWong99/gameweaver/pkg/audio"
)

// dumpSet writes the synthesised audio of the current turn to WAV files and
// removes them when the turn ends or the session stops. A zero dir disables
// it.
type dumpSet struct {
	dir    string
	prefix string

	mu    sync.Mutex
	seq   int
	files []string
}

func (d *dumpSet) write(pcm []byte, f audio.Format) {
	if d == nil || d.dir == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	path := filepath.Join(d.dir, fmt.Sprintf("%s-%04d.wav", d.prefix, d.seq))
	if err := os.WriteFile(path, audio.EncodeWAV(pcm, f), 0o600); err != nil {
		slog.Warn("relay: write audio dump", "path", path, "err", err)
		return
	}
	d.files = append(d.files, path)
}

// clear removes every file written since the last clear.
func (d *dumpSet) clear() {
	if d == nil {
		return
	}
	d.mu.Lock()
	files := d.files
	d.files = nil
	d.mu.Unlock()

	for _, path := range files {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("relay: remove audio dump", "path", path, "err", err)
		}
	}
}
