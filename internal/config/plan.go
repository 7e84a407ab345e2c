package config

import (
	"fmt"
	"os"

	"github.com/campusbridge/cutover/pkg/models"
)

// LoadPlan reads and parses the pipeline plan file from the given path.
func LoadPlan(filePath string) (*models.Plan, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file %q: %w", filePath, err)
	}
	plan, err := models.LoadPlan(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan file %q: %w", filePath, err)
	}
	return plan, nil
}
