package assessment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/childassess/internal/domain"
	"github.com/ashureev/childassess/internal/llm"
)

// generateTasks asks the generator for the task list, keeps the well-formed
// items and backfills from the backup tasks by position.
func (s *Service) generateTasks(ctx context.Context, sessionID string, age int) []domain.Task {
	count := s.content.TaskCount
	var tasks []domain.Task

	if s.gen != nil {
		genCtx, cancel := context.WithTimeout(ctx, s.generateTimeout)
		reply, err := s.gen.Generate(genCtx, tasksPrompt(age, count))
		cancel()
		if err != nil {
			s.logger.Warn("Task generation failed, using backup tasks", "session_id", sessionID, "error", err)
		} else {
			tasks = parseTasks(reply)
		}
	}

	generated := len(tasks)
	if len(tasks) < count {
		tasks = append(tasks, s.content.BackupTasks[len(tasks):count]...)
	}
	tasks = tasks[:count]

	s.logger.Info("Tasks prepared", "session_id", sessionID, "generated", generated, "total", len(tasks))
	return tasks
}

// parseTasks reads a JSON list of {text, type} objects and drops malformed items.
func parseTasks(reply string) []domain.Task {
	body := llm.StripFences(reply)
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		start, end := strings.Index(body, "["), strings.LastIndex(body, "]")
		if start < 0 || end <= start {
			return nil
		}
		if err := json.Unmarshal([]byte(body[start:end+1]), &items); err != nil {
			return nil
		}
	}

	var tasks []domain.Task
	for _, raw := range items {
		var t domain.Task
		if err := json.Unmarshal(raw, &t); err != nil {
			continue
		}
		t.Text = strings.TrimSpace(t.Text)
		if t.Valid() {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

func tasksPrompt(age, count int) string {
	if age <= 0 {
		age = 7
	}
	return fmt.Sprintf(
		"Generate exactly %d tasks for a %d-year-old child's language assessment. "+
			"Mix 'read aloud' tasks (sentences to read) and 'writing' tasks (simple questions to answer) evenly. "+
			"Return a strict JSON list of objects. Each object must have:\n"+
			"- 'text': The sentence or question.\n"+
			"- 'type': 'audio' (for reading tasks) or 'text' (for writing tasks).\n"+
			`Example output: [{"text": "Read this.", "type": "audio"}, {"text": "What is this?", "type": "text"}]`,
		count, age)
}
