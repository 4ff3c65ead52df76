package main

import (
	"fmt"
	"os"
	"path/filepath"

	"adipoprep/internal/logger"
	"adipoprep/pkg/config"
	"adipoprep/pkg/imageio"
	"adipoprep/pkg/preparator"
)

// fileSink writes the outputs of a task next to each other:
// <prefix>.tif, <prefix>.txt, <prefix>.yaml and, when enabled, the ROI
// masks and the preview.
type fileSink struct {
	cfg *config.Config
	log logger.Logger
}

func (s *fileSink) Write(task preparator.Task, res *preparator.TaskResult, report []byte) error {
	dir := s.cfg.Output.Dir
	if dir == "" {
		dir = filepath.Dir(task.Path)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	prefix := preparator.OutputPrefix(dir, task.Name, task.Series, task.TotalSeries, s.cfg.Output.DateStamp, res.Started)

	if err := imageio.Write(prefix+".tif", res.Output); err != nil {
		return err
	}
	if err := os.WriteFile(prefix+".txt", report, 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if err := config.SaveConfig(s.cfg, prefix+".yaml"); err != nil {
		return err
	}
	written := []string{prefix + ".tif", prefix + ".txt", prefix + ".yaml"}

	if s.cfg.Output.SaveROI {
		for i, roi := range res.ROIs {
			if roi == nil {
				continue
			}
			path := fmt.Sprintf("%s_ROI%d_C%d.png", prefix, i+1, res.Results[i].Source())
			if err := imageio.WriteROI(path, roi); err != nil {
				return err
			}
			written = append(written, path)
		}
	}
	if s.cfg.Output.SavePreview {
		path := prefix + "_preview.jpg"
		if err := imageio.WritePreview(path, res); err != nil {
			return err
		}
		written = append(written, path)
	}

	s.log.Debug("output", "files written", logger.Fields{"task": task.Name, "files": written})
	return nil
}
