package seed

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed jokes.yaml
var bundled []byte

// Dataset is the full set of jokes a seed run leaves in the store.
type Dataset struct {
	Jokes []string `yaml:"jokes"`
}

// Default returns the corpus bundled into the binary.
func Default() (Dataset, error) {
	return parse(bundled, "bundled corpus")
}

// LoadDataset reads a YAML file with a top-level "jokes" list.
func LoadDataset(path string) (Dataset, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from a CLI flag
	if err != nil {
		return Dataset{}, fmt.Errorf("reading seed file: %w", err)
	}

	return parse(data, path)
}

func parse(data []byte, source string) (Dataset, error) {
	var d Dataset
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Dataset{}, fmt.Errorf("parsing %s: %w", source, err)
	}

	if err := d.Validate(); err != nil {
		return Dataset{}, fmt.Errorf("%s: %w", source, err)
	}

	return d, nil
}

// Validate rejects empty datasets and blank jokes.
func (d Dataset) Validate() error {
	if len(d.Jokes) == 0 {
		return fmt.Errorf("%w: no jokes", ErrInvalidDataset)
	}

	for i, j := range d.Jokes {
		if strings.TrimSpace(j) == "" {
			return fmt.Errorf("%w: entry %d is blank", ErrInvalidDataset, i+1)
		}
	}

	return nil
}
