package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashureev/cvstudio/internal/agent"
	"github.com/ashureev/cvstudio/internal/domain"
	"github.com/ashureev/cvstudio/internal/store"
	"github.com/ashureev/cvstudio/internal/workflow"
)

// ErrWorkRoleLocked is returned for edits that would touch a locked work entry.
var ErrWorkRoleLocked = errors.New("work role is locked")

var editableSections = map[string]bool{
	"contact":          true,
	"summary":          true,
	"education":        true,
	"work_experience":  true,
	"skills":           true,
	"languages":        true,
	"technical_skills": true,
	"interests":        true,
	"certifications":   true,
	"references":       true,
}

// segment is one step of a field path such as work_experience[2] or skills[+].
type segment struct {
	key    string
	index  int
	list   bool
	append bool
}

type fieldUpdate struct {
	path  string
	segs  []segment
	value any
}

func parsePath(path string) ([]segment, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("empty path")
	}
	parts := strings.Split(path, ".")
	segs := make([]segment, 0, len(parts))
	for _, part := range parts {
		seg := segment{key: part}
		if open := strings.IndexByte(part, '['); open >= 0 {
			if !strings.HasSuffix(part, "]") || open == 0 {
				return nil, fmt.Errorf("malformed path segment %q", part)
			}
			seg.key = part[:open]
			seg.list = true
			idx := part[open+1 : len(part)-1]
			if idx == "+" {
				seg.append = true
			} else {
				n, err := strconv.Atoi(idx)
				if err != nil || n < 0 {
					return nil, fmt.Errorf("invalid index in %q", part)
				}
				seg.index = n
			}
		}
		if seg.key == "" {
			return nil, fmt.Errorf("malformed path %q", path)
		}
		segs = append(segs, seg)
	}
	if !editableSections[segs[0].key] {
		return nil, fmt.Errorf("section %q cannot be edited", segs[0].key)
	}
	return segs, nil
}

func parseUpdates(args map[string]any) ([]fieldUpdate, error) {
	raw, ok := args["updates"].([]any)
	if !ok || len(raw) == 0 {
		return nil, errors.New("updates must be a non-empty list")
	}
	out := make([]fieldUpdate, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("updates[%d] must be an object", i)
		}
		path, _ := m["path"].(string)
		segs, err := parsePath(path)
		if err != nil {
			return nil, fmt.Errorf("updates[%d]: %w", i, err)
		}
		value, has := m["value"]
		if encoded, ok := m["value_json"].(string); ok && !has {
			if err := json.Unmarshal([]byte(encoded), &value); err != nil {
				return nil, fmt.Errorf("updates[%d]: value_json: %w", i, err)
			}
			has = true
		}
		if !has {
			return nil, fmt.Errorf("updates[%d]: value is required", i)
		}
		out = append(out, fieldUpdate{path: path, segs: segs, value: value})
	}
	return out, nil
}

// checkLocks rejects edits to locked work entries and wholesale replacement
// of the work list while any entry is locked.
func checkLocks(meta *domain.Metadata, u fieldUpdate) error {
	top := u.segs[0]
	if top.key != "work_experience" {
		return nil
	}
	switch {
	case !top.list && meta.HasWorkRoleLocks():
		return fmt.Errorf("%w: cannot replace work_experience while entries are locked", ErrWorkRoleLocked)
	case top.list && !top.append && meta.IsWorkRoleLocked(top.index):
		return fmt.Errorf("%w: work_experience[%d]", ErrWorkRoleLocked, top.index)
	}
	return nil
}

func setPath(node map[string]any, segs []segment, value any) error {
	seg := segs[0]
	last := len(segs) == 1

	if !seg.list {
		if last {
			node[seg.key] = value
			return nil
		}
		child, _ := node[seg.key].(map[string]any)
		if child == nil {
			child = map[string]any{}
			node[seg.key] = child
		}
		return setPath(child, segs[1:], value)
	}

	list, _ := node[seg.key].([]any)
	idx := seg.index
	if seg.append {
		if last {
			node[seg.key] = append(list, value)
			return nil
		}
		list = append(list, map[string]any{})
		idx = len(list) - 1
	}
	if idx >= len(list) {
		return fmt.Errorf("index %d out of range for %s", idx, seg.key)
	}
	if last {
		list[idx] = value
		node[seg.key] = list
		return nil
	}
	child, ok := list[idx].(map[string]any)
	if !ok {
		return fmt.Errorf("%s[%d] is not an object", seg.key, idx)
	}
	if err := setPath(child, segs[1:], value); err != nil {
		return err
	}
	node[seg.key] = list
	return nil
}

// applyUpdates applies all updates or none.
func applyUpdates(data domain.CVData, updates []fieldUpdate) (domain.CVData, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return data, err
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return data, err
	}
	for _, u := range updates {
		if err := setPath(tree, u.segs, u.value); err != nil {
			return data, fmt.Errorf("%s: %w", u.path, err)
		}
	}
	raw, err = json.Marshal(tree)
	if err != nil {
		return data, err
	}
	var out domain.CVData
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return data, fmt.Errorf("invalid value: %w", err)
	}
	return out, nil
}

func sameJSON(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ra, rb)
}

func (r *Registry) updateFields(ctx context.Context, args map[string]any, env agent.CallEnv) (agent.ToolResult, error) {
	s, err := store.LoadSession(ctx, r.store, env.SessionID)
	if err != nil {
		return agent.ToolResult{}, err
	}

	updates, err := parseUpdates(args)
	if err != nil {
		return failure("invalid_update", err), nil
	}
	for _, u := range updates {
		if err := checkLocks(&s.Metadata, u); err != nil {
			return failure("work_role_locked", err), nil
		}
	}

	updated, err := applyUpdates(s.Data, updates)
	if err != nil {
		return failure("invalid_update", err), nil
	}

	mutated := !sameJSON(s.Data, updated)
	paths := make([]string, 0, len(updates))
	for _, u := range updates {
		paths = append(paths, u.path)
	}
	if mutated {
		// An edited section has to be confirmed again.
		if !sameJSON(s.Data.Contact, updated.Contact) {
			s.Metadata.ConfirmedFlags.ContactConfirmed = false
		}
		if !sameJSON(s.Data.Education, updated.Education) {
			s.Metadata.ConfirmedFlags.EducationConfirmed = false
		}
		s.Data = updated
		s.Metadata.UpdatedAt = r.now()
		if err := r.store.PutSession(ctx, s); err != nil {
			return agent.ToolResult{}, fmt.Errorf("update fields: %w", err)
		}
	}

	ready := r.gate.Compute(s)
	return agent.ToolResult{
		Output: map[string]any{
			"updated": paths,
			"changed": mutated,
			"missing": ready.Missing,
		},
		Outcome: workflow.OutcomeOK,
		Mutated: mutated,
	}, nil
}
