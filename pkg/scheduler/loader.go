package scheduler

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vortexdata/vortex/pkg/errors"
)

type jobsFile struct {
	Jobs []*Job `yaml:"jobs"`
}

// LoadJobsFromFile reads job definitions from a YAML file.
func LoadJobsFromFile(path string) ([]*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "cannot read jobs file %s", path)
	}
	return LoadJobsFromBytes(data)
}

// LoadJobsFromBytes parses job definitions from YAML.
func LoadJobsFromBytes(data []byte) ([]*Job, error) {
	var file jobsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "cannot parse jobs file")
	}
	for _, job := range file.Jobs {
		if job.MaxRetryCount == 0 {
			job.MaxRetryCount = 3
		}
	}
	return file.Jobs, nil
}
