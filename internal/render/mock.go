package render

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// mockPayload is the placeholder written in place of rendered media.
type mockPayload struct {
	Mock     bool     `json:"mock"`
	Kind     string   `json:"kind"`
	Scenes   []Scene  `json:"scenes"`
	Theme    *Theme   `json:"theme,omitempty"`
	Settings any      `json:"settings"`
	Metadata Metadata `json:"metadata"`
}

func writeMock(dir, ext string, payload mockPayload) ([]byte, error) {
	payload.Mock = true
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode mock payload: %w", err)
	}
	path := filepath.Join(dir, "out."+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write mock output: %w", err)
	}
	return os.ReadFile(path)
}
