package model

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// WriteJSON writes the model as indented JSON with map keys sorted, so two
// runs over the same inputs produce identical bytes.
func (m *Model) WriteJSON(w io.Writer) error {
	if err := json.MarshalWrite(w, m, json.Deterministic(true), jsontext.WithIndent("  ")); err != nil {
		return fmt.Errorf("encoding model: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteJSONFile writes the model as JSON to the given file path.
func (m *Model) WriteJSONFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	if err := m.WriteJSON(bw); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadJSON decodes a model previously written by WriteJSON.
func ReadJSON(r io.Reader) (*Model, error) {
	m := New()
	if err := json.UnmarshalRead(r, m); err != nil {
		return nil, fmt.Errorf("decoding model: %w", err)
	}
	return m, nil
}

// ReadJSONFile reads a model from a JSON file.
func ReadJSONFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return ReadJSON(bufio.NewReader(f))
}
