package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alejandrodnm/binarybot/internal/domain"
	"github.com/alejandrodnm/binarybot/internal/ports"
)

// TradeLog añade una línea JSON por apertura o cierre (JSONL). Seguro para
// uso concurrente. Un *TradeLog nil descarta todo, así el log es opcional
// sin ifs en los callers.
type TradeLog struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

// NewTradeLog devuelve nil si path está vacío. El fichero se abre en la
// primera escritura.
func NewTradeLog(path string) *TradeLog {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &TradeLog{path: path}
}

func (t *TradeLog) openLocked() error {
	if t.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	t.file = f
	t.w = bufio.NewWriterSize(f, 64*1024)
	return nil
}

// Record implementa ports.TradeLog. Hace flush tras cada línea para que
// `tail -f` vea los trades al momento.
func (t *TradeLog) Record(rec domain.TradeRecord) error {
	if t == nil {
		return nil
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage.TradeLog.Record: marshal: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.openLocked(); err != nil {
		return fmt.Errorf("storage.TradeLog.Record: open %s: %w", t.path, err)
	}
	if _, err := t.w.Write(b); err != nil {
		return err
	}
	if err := t.w.WriteByte('\n'); err != nil {
		return err
	}
	return t.w.Flush()
}

// Close vacía el buffer y cierra el fichero.
func (t *TradeLog) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var firstErr error
	if t.w != nil {
		firstErr = t.w.Flush()
	}
	if t.file != nil {
		if err := t.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.w, t.file = nil, nil
	if errors.Is(firstErr, os.ErrClosed) {
		return nil
	}
	return firstErr
}

// MultiLog reparte cada registro entre varios logs. Devuelve el primer error
// pero siempre escribe en todos.
type MultiLog []ports.TradeLog

// Record implementa ports.TradeLog.
func (m MultiLog) Record(rec domain.TradeRecord) error {
	var firstErr error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.Record(rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
