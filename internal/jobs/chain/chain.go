// Package chain builds linear job chains: stage k+1 becomes runnable only after
// stage k succeeded, and a stage that fails for good takes every later stage
// down with it (the worker's dependency sweep marks them failed). Stages that
// already succeeded are never undone.
package chain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/slidestream-backend/internal/data/repos/jobs"
	types "github.com/yungbote/slidestream-backend/internal/domain"
	"github.com/yungbote/slidestream-backend/internal/pkg/dbctx"
)

type Stage struct {
	// Key is the stage's job identity; submitting a key that already exists
	// links to the existing job instead of creating a new one.
	Key        string
	JobType    string
	EntityType string
	EntityID   *uuid.UUID
	Payload    any
}

type Chain struct {
	OwnerUserID uuid.UUID
	MaxAttempts int
	// After optionally makes the first stage wait on a job outside the chain.
	After  string
	Stages []Stage
}

func Linear(owner uuid.UUID, maxAttempts int, stages ...Stage) *Chain {
	return &Chain{OwnerUserID: owner, MaxAttempts: maxAttempts, Stages: stages}
}

func (c *Chain) Validate() error {
	if c == nil || len(c.Stages) == 0 {
		return fmt.Errorf("chain has no stages")
	}
	seen := map[string]bool{}
	for i, s := range c.Stages {
		key := strings.TrimSpace(s.Key)
		if key == "" {
			return fmt.Errorf("stage %d missing Key", i)
		}
		if strings.TrimSpace(s.JobType) == "" {
			return fmt.Errorf("stage %q missing JobType", key)
		}
		if seen[key] {
			return fmt.Errorf("duplicate stage key %q", key)
		}
		seen[key] = true
	}
	if c.After != "" && seen[c.After] {
		return fmt.Errorf("chain cannot wait on its own stage %q", c.After)
	}
	return nil
}

// Keys returns stage keys in execution order.
func (c *Chain) Keys() []string {
	out := make([]string, 0, len(c.Stages))
	for _, s := range c.Stages {
		out = append(out, s.Key)
	}
	return out
}

// Jobs materializes the chain as job rows linked through DependsOnKey.
func (c *Chain) Jobs() ([]*types.JobRun, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	out := make([]*types.JobRun, 0, len(c.Stages))
	var prev *string
	if c.After != "" {
		after := c.After
		prev = &after
	}
	for _, s := range c.Stages {
		payload := datatypes.JSON([]byte("{}"))
		if s.Payload != nil {
			b, err := json.Marshal(s.Payload)
			if err != nil {
				return nil, fmt.Errorf("encode payload for %q: %w", s.Key, err)
			}
			payload = datatypes.JSON(b)
		}
		out = append(out, &types.JobRun{
			OwnerUserID:  c.OwnerUserID,
			JobType:      s.JobType,
			JobKey:       s.Key,
			DependsOnKey: prev,
			EntityType:   s.EntityType,
			EntityID:     s.EntityID,
			MaxAttempts:  c.MaxAttempts,
			Payload:      payload,
		})
		key := s.Key
		prev = &key
	}
	return out, nil
}

// Submit enqueues the chain atomically. Stages whose key already exists are
// reported as deduplicated.
func (c *Chain) Submit(dbc dbctx.Context, repo jobs.JobRunRepo) (jobs.EnqueueResult, error) {
	rows, err := c.Jobs()
	if err != nil {
		return jobs.EnqueueResult{}, err
	}
	return repo.Enqueue(dbc, rows)
}
