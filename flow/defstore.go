package flow

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/vaanihq/vaani/store"
	"github.com/vaanihq/vaani/store/cache"
)

// boolPtr avoids a handful of throwaway locals below.
func boolPtr(b bool) *bool { return &b }

// DefinitionStore resolves flow definitions from the database with a
// read-mostly cache in front. Lookups for the same key are collapsed with
// singleflight so a cold cache does not stampede the database.
type DefinitionStore struct {
	store *store.Store
	eval  *Evaluator
	cache *cache.LRUCache[string, *Definition]
	group singleflight.Group
}

func NewDefinitionStore(st *store.Store, eval *Evaluator) *DefinitionStore {
	return &DefinitionStore{
		store: st,
		eval:  eval,
		cache: cache.NewLRUCache[string, *Definition](256, 5*time.Minute),
	}
}

// ByTrigger returns the enabled flow activated by the intent, or nil when
// none matches. Multiple enabled flows with the same trigger resolve to the
// highest version; ties break to the lexicographically greatest id. The
// tie-break is deterministic, not a preference.
func (s *DefinitionStore) ByTrigger(ctx context.Context, intent string) (*Definition, error) {
	return s.lookup(ctx, "trigger:"+intent, func() (*Definition, error) {
		rows, err := s.store.ListFlows(ctx, &store.FindFlow{Trigger: &intent, Enabled: boolPtr(true)})
		if err != nil {
			return nil, err
		}
		return s.pick(rows)
	})
}

// ByID returns the highest enabled version of the flow id, or nil.
func (s *DefinitionStore) ByID(ctx context.Context, id string) (*Definition, error) {
	return s.lookup(ctx, "id:"+id, func() (*Definition, error) {
		rows, err := s.store.ListFlows(ctx, &store.FindFlow{ID: &id, Enabled: boolPtr(true)})
		if err != nil {
			return nil, err
		}
		return s.pick(rows)
	})
}

func (s *DefinitionStore) lookup(ctx context.Context, key string, fetch func() (*Definition, error)) (*Definition, error) {
	if def, ok := s.cache.Get(key); ok {
		return def, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		def, err := fetch()
		if err != nil {
			return nil, err
		}
		if def != nil {
			s.cache.Set(key, def, 0)
		}
		return def, nil
	})
	if err != nil {
		return nil, err
	}
	def, _ := v.(*Definition)
	return def, nil
}

func (s *DefinitionStore) pick(rows []*store.Flow) (*Definition, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Version != rows[j].Version {
			return rows[i].Version > rows[j].Version
		}
		return rows[i].ID > rows[j].ID
	})
	return s.fromRow(rows[0])
}

func (s *DefinitionStore) fromRow(row *store.Flow) (*Definition, error) {
	def := &Definition{
		ID:           row.ID,
		Name:         row.Name,
		Description:  row.Description,
		Module:       row.Module,
		Trigger:      row.Trigger,
		InitialState: row.InitialState,
		Enabled:      row.Enabled,
		Version:      row.Version,
	}
	if err := json.Unmarshal(row.States, &def.States); err != nil {
		return nil, errors.Wrapf(err, "flow %s: invalid states document", row.ID)
	}
	if err := json.Unmarshal(row.FinalStates, &def.FinalStates); err != nil {
		return nil, errors.Wrapf(err, "flow %s: invalid final_states document", row.ID)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Invalidate drops every cached entry. Called after flows load/toggle; the
// cache is small and reload is cheap, so a full drop beats tracking which
// triggers a version change touches.
func (s *DefinitionStore) Invalidate() {
	s.cache.Clear()
}

// Save validates a definition (structure, condition expressions) and
// upserts it, idempotent on (id, version).
func (s *DefinitionStore) Save(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if s.eval != nil {
		for name, st := range def.States {
			for _, cond := range st.Conditions {
				if err := s.eval.Check(cond.If); err != nil {
					return errors.Wrapf(err, "flow %s: state %q", def.ID, name)
				}
			}
		}
	}

	states, err := json.Marshal(def.States)
	if err != nil {
		return errors.Wrap(err, "failed to encode states")
	}
	finals, err := json.Marshal(def.FinalStates)
	if err != nil {
		return errors.Wrap(err, "failed to encode final_states")
	}

	if _, err := s.store.UpsertFlow(ctx, &store.UpsertFlow{
		ID:           def.ID,
		Version:      def.Version,
		Name:         def.Name,
		Description:  def.Description,
		Module:       def.Module,
		Trigger:      def.Trigger,
		States:       states,
		InitialState: def.InitialState,
		FinalStates:  finals,
		Enabled:      def.Enabled,
	}); err != nil {
		return err
	}

	s.Invalidate()
	return nil
}

// LoadDir parses and saves every *.json flow file under dir. Returns the
// number of definitions loaded; the first schema error aborts the load.
func (s *DefinitionStore) LoadDir(ctx context.Context, dir string) (int, error) {
	entries, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, err
	}
	sort.Strings(entries)

	loaded := 0
	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			return loaded, errors.Wrapf(err, "failed to read %s", path)
		}
		def, err := ParseDefinition(data)
		if err != nil {
			return loaded, errors.Wrapf(err, "%s", filepath.Base(path))
		}
		if err := s.Save(ctx, def); err != nil {
			return loaded, errors.Wrapf(err, "%s", filepath.Base(path))
		}
		loaded++
		slog.Info("flow: definition loaded", "flow_id", def.ID, "version", def.Version, "trigger", def.Trigger)
	}
	return loaded, nil
}
