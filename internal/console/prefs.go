package console

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// darkModeKey — фиксированный ключ преференции темной темы.
// Единственное, что подложка вообще персистит локально.
const darkModeKey = "tb_admin_dark_mode"

// Prefs — файловое хранилище UI-преференций (аналог tab-local storage).
type Prefs struct {
	mu     sync.Mutex
	path   string
	values map[string]bool
}

func NewPrefs(path string) (*Prefs, error) {
	p := &Prefs{path: path, values: make(map[string]bool)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, err
	}
	// Битый файл преференций — не причина не стартовать
	_ = json.Unmarshal(raw, &p.values)
	return p, nil
}

func (p *Prefs) DarkMode() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[darkModeKey]
}

func (p *Prefs) SetDarkMode(enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[darkModeKey] = enabled
	return p.flushLocked()
}

func (p *Prefs) flushLocked() error {
	raw, err := json.Marshal(p.values)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p.path, raw, 0o644)
}
