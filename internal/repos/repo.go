package repos

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yungbote/presgrade-backend/internal/platform/logger"
	"github.com/yungbote/presgrade-backend/internal/store"
)

// FileDeleter is the slice of object storage the repository needs for
// cascade deletes. Deletion is best-effort: a missing remote file must not
// block metadata cleanup.
type FileDeleter interface {
	DeleteFile(ctx context.Context, key string) error
}

// Repo owns batch and submission records, the membership sets, and the
// processing queue. The membership set (SAdd/SRem) is the only write the
// store guarantees atomic, so it is treated as ground truth; the ordered
// SubmissionIDs list and all counters on the batch record are re-derivable
// projections.
type Repo struct {
	store store.Store
	files FileDeleter
	log   *logger.Logger
	now   func() time.Time

	foldAttempts int
	foldBackoff  time.Duration
}

func NewRepo(st store.Store, files FileDeleter, baseLog *logger.Logger) *Repo {
	return &Repo{
		store:        st,
		files:        files,
		log:          baseLog.With("repo", "BatchSubmissionRepo"),
		now:          time.Now,
		foldAttempts: 5,
		foldBackoff:  25 * time.Millisecond,
	}
}

func (r *Repo) getJSON(ctx context.Context, key string, out any) error {
	raw, err := r.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode record %q: %w", key, err)
	}
	return nil
}

func (r *Repo) setJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record %q: %w", key, err)
	}
	return r.store.Set(ctx, key, string(raw))
}

// unionIDs keeps the order of base, then appends anything from extras not
// already present.
func unionIDs(base []string, extras ...[]string) []string {
	seen := make(map[string]struct{}, len(base))
	out := make([]string, 0, len(base))
	for _, id := range base {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, ex := range extras {
		for _, id := range ex {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
