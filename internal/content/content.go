// Package content loads the fixed business content of the assessments:
// screening questions and the backup reading/writing tasks.
package content

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/ashureev/childassess/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed content.yaml
var defaultContentYAML []byte

// Content is the question material the engines draw from.
type Content struct {
	OpeningQuestion   string        `yaml:"opening_question"`
	FallbackQuestions []string      `yaml:"fallback_questions"`
	CatchAllQuestions []string      `yaml:"catch_all_questions"`
	TaskCount         int           `yaml:"task_count"`
	BackupTasks       []domain.Task `yaml:"backup_tasks"`
}

// Default returns the built-in content.
func Default() (*Content, error) {
	return parse(defaultContentYAML)
}

// Load reads content from path, or the built-in content when path is empty.
func Load(path string) (*Content, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Content, error) {
	var c Content
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse content: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid content: %w", err)
	}
	return &c, nil
}

// Validate checks that the content can serve a full session.
func (c *Content) Validate() error {
	if c.OpeningQuestion == "" {
		return fmt.Errorf("opening_question cannot be empty")
	}
	if len(c.FallbackQuestions) == 0 {
		return fmt.Errorf("fallback_questions cannot be empty")
	}
	// Every bot turn may need a distinct fallback, the opening one included.
	if need := domain.MaxChatTurns/2 + 1; len(c.FallbackQuestions)+len(c.CatchAllQuestions) < need {
		return fmt.Errorf("need at least %d fallback and catch-all questions, got %d",
			need, len(c.FallbackQuestions)+len(c.CatchAllQuestions))
	}
	if c.TaskCount <= 0 {
		return fmt.Errorf("task_count must be > 0")
	}
	if len(c.BackupTasks) < c.TaskCount {
		return fmt.Errorf("need at least %d backup tasks, got %d", c.TaskCount, len(c.BackupTasks))
	}
	for i, task := range c.BackupTasks {
		if !task.Valid() {
			return fmt.Errorf("backup task %d is invalid", i)
		}
	}
	return nil
}
