package decode

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileSink writes every picture to the same path, replacing the previous one.
type FileSink struct {
	Path string
}

func (s FileSink) Save(p Picture) error {
	if s.Path == "" {
		return fmt.Errorf("decode: file sink path required")
	}
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(p.Data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// MultiSink fans a picture out to every sink and returns the first error.
type MultiSink []Sink

func (m MultiSink) Save(p Picture) error {
	var first error
	for _, s := range m {
		if err := s.Save(p); err != nil && first == nil {
			first = err
		}
	}
	return first
}
