package core

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

type PredictionRow struct {
	Question       string `csv:"question"`
	PredictedIndex int    `csv:"predicted_index"`
	PredictedLabel string `csv:"predicted_label"`
	Label          string `csv:"label,omitempty"`
}

func WritePredictions(path string, rows []PredictionRow) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("error creating prediction directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating prediction file: %w", err)
	}
	defer file.Close()

	if err := gocsv.MarshalFile(&rows, file); err != nil {
		return fmt.Errorf("error writing predictions: %w", err)
	}

	slog.Info("saved predictions", "path", path, "rows", len(rows))
	return nil
}
