package service

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed assets/camera_moves.yaml
var cameraMovesFS embed.FS

// CameraMove is one entry of the analyzer's camera vocabulary
type CameraMove struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

var (
	cameraMovesOnce sync.Once
	cameraMoves     []CameraMove
)

// CameraMoves returns the camera vocabulary in library order.
func CameraMoves() []CameraMove {
	cameraMovesOnce.Do(func() {
		moves, err := loadCameraMoves()
		if err != nil {
			panic(fmt.Sprintf("invalid embedded camera vocabulary: %v", err))
		}
		cameraMoves = moves
	})
	out := make([]CameraMove, len(cameraMoves))
	copy(out, cameraMoves)
	return out
}

func loadCameraMoves() ([]CameraMove, error) {
	data, err := cameraMovesFS.ReadFile("assets/camera_moves.yaml")
	if err != nil {
		return nil, err
	}
	var doc struct {
		Moves []CameraMove `yaml:"moves"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	for i, m := range doc.Moves {
		if strings.TrimSpace(m.Name) == "" {
			return nil, fmt.Errorf("move %d has no name", i+1)
		}
	}
	return doc.Moves, nil
}

// cameraLibrary renders the vocabulary as the numbered list used in prompts.
func cameraLibrary() string {
	var sb strings.Builder
	for i, m := range CameraMoves() {
		fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, m.Name, m.Description)
	}
	return sb.String()
}
