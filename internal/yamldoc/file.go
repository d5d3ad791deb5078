package yamldoc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ParseError reports a document that exists but cannot be read as a YAML
// mapping.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// WriteError reports a failure to persist a document.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

var errRootNotMapping = errors.New("document root is not a mapping")

// Parse decodes a single YAML document whose root is a mapping. Empty
// input and an explicit null document both yield an empty mapping.
func Parse(data []byte) (*Mapping, error) {
	var doc yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return NewMapping(), nil
		}
		return nil, err
	}
	v, err := fromNode(&doc)
	if err != nil {
		return nil, err
	}
	switch v.Kind() {
	case KindNull:
		return NewMapping(), nil
	case KindMapping:
		m, _ := v.AsMapping()
		return m, nil
	default:
		return nil, fmt.Errorf("%w (got %s)", errRootNotMapping, v.Kind())
	}
}

// Marshal encodes m with two-space indentation.
func Marshal(m *Mapping) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(mappingNode(m)); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load reads the mapping stored at path. A missing file is not an error
// and yields an empty mapping.
func Load(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewMapping(), nil
		}
		return nil, &ParseError{Path: path, Err: err}
	}
	m, err := Parse(data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return m, nil
}

// Save writes m to path, creating parent directories as needed. The file
// is replaced atomically so readers never observe a partial document.
func Save(m *Mapping, path string) error {
	data, err := Marshal(m)
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := WriteFile(path, data, 0o644); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// WriteFile atomically replaces path with data.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	return WriteReader(path, bytes.NewReader(data), perm)
}

// WriteReader atomically replaces path with everything read from r,
// creating parent directories as needed. Nothing is left behind when
// reading or writing fails.
func WriteReader(path string, r io.Reader, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
