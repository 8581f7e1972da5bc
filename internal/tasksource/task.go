package tasksource

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"fwajob/internal/dispatch"
)

const (
	clanUpdatePath   = "Update/UpdateTask/"
	playerUpdatePath = "Update/UpdatePlayerTask/"
)

// TaskID is the opaque clan task identifier. The service sends it either as a
// JSON number or a JSON string; both decode to the same text.
type TaskID string

func (id *TaskID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return fmt.Errorf("task id: %w", err)
		}
		*id = TaskID(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return fmt.Errorf("task id: unexpected %s", b)
	}
	*id = TaskID(b)
	return nil
}

func (id TaskID) String() string { return string(id) }

// ClanTask is one entry of the task index.
type ClanTask struct {
	ID       TaskID `json:"id"`
	ClanName string `json:"clanName"`
}

func (t ClanTask) Key() string { return string(t.ID) }

func (t ClanTask) Label() string {
	name := strings.TrimSpace(t.ClanName)
	if name == "" {
		return string(t.ID)
	}
	return name + " (" + string(t.ID) + ")"
}

func (t ClanTask) Path() string { return clanUpdatePath + url.PathEscape(string(t.ID)) }

// PlayerTask updates a single player identified by its tag (e.g. "#2PP").
type PlayerTask struct {
	Tag string
}

func (t PlayerTask) Key() string   { return t.Tag }
func (t PlayerTask) Label() string { return t.Tag }

// Path escapes the tag: '#' would otherwise start a URL fragment.
func (t PlayerTask) Path() string { return playerUpdatePath + url.PathEscape(t.Tag) }

// Index is the reply of the task index endpoint.
type Index struct {
	Tasks  []ClanTask `json:"tasks"`
	Errors []string   `json:"errors"`
}

// ClanTasks returns the index tasks in dispatch order.
func (ix Index) ClanTasks() []dispatch.Task {
	out := make([]dispatch.Task, 0, len(ix.Tasks))
	for _, t := range ix.Tasks {
		out = append(out, t)
	}
	return out
}

// PlayerTasks wraps a tag list as update tasks.
func PlayerTasks(tags []string) []dispatch.Task {
	out := make([]dispatch.Task, 0, len(tags))
	for _, tag := range tags {
		out = append(out, PlayerTask{Tag: tag})
	}
	return out
}
