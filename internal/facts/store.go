package facts

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/go-json-experiment/json"
)

// Store provides in-memory storage and querying of facts with JSONL persistence.
type Store struct {
	mu    sync.RWMutex
	facts []Fact

	// Indexes for fast lookups
	byKind  map[string][]int // kind -> indices into facts
	byName  map[string][]int // name -> indices into facts
	byOwner map[string][]int // owning class -> indices into facts
}

// NewStore creates an empty fact store.
func NewStore() *Store {
	return &Store{
		byKind:  make(map[string][]int),
		byName:  make(map[string][]int),
		byOwner: make(map[string][]int),
	}
}

// Add adds facts to the store.
func (s *Store) Add(ff ...Fact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range ff {
		idx := len(s.facts)
		s.facts = append(s.facts, f)
		s.byKind[f.Kind] = append(s.byKind[f.Kind], idx)
		if f.Name != "" {
			s.byName[f.Name] = append(s.byName[f.Name], idx)
		}
		if f.Owner != "" {
			s.byOwner[f.Owner] = append(s.byOwner[f.Owner], idx)
		}
	}
}

// All returns all facts in the store.
func (s *Store) All() []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Fact, len(s.facts))
	copy(result, s.facts)
	return result
}

// Count returns the number of facts in the store.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.facts)
}

// ByKind returns all facts of the given kind.
func (s *Store) ByKind(kind string) []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectByIndex(s.byKind[kind])
}

// ByName returns all facts with the given name.
func (s *Store) ByName(name string) []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectByIndex(s.byName[name])
}

// ByOwner returns the methods declared by the given class or informal
// protocol.
func (s *Store) ByOwner(owner string) []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectByIndex(s.byOwner[owner])
}

// QueryOpts holds the full set of query filters for QueryAdvanced.
// Multi-value filters within a dimension are OR-combined; filters across
// different dimensions are AND-combined.
type QueryOpts struct {
	Kind      string   // single kind filter (exact match)
	Kinds     []string // multi-kind filter (OR with Kind)
	Name      string   // substring name filter
	Names     []string // exact name batch filter (OR)
	Owner     string   // exact owning class filter
	RelKind   string   // relation kind filter
	Prop      string   // property name filter
	PropValue string   // property value filter (requires Prop)
	Offset    int      // number of results to skip
	Limit     int      // max results to return (0 = default 100, max 500)
}

// QueryAdvanced returns facts matching the provided filter options along with
// the total count of matches before offset/limit are applied.
func (s *Store) QueryAdvanced(opts QueryOpts) ([]Fact, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kindSet := mergeIntoSet(opts.Kind, opts.Kinds)
	nameSet := mergeIntoSet("", opts.Names)

	var matched []Fact
	for _, f := range s.facts {
		if kindSet != nil {
			if _, ok := kindSet[f.Kind]; !ok {
				continue
			}
		}

		if opts.Owner != "" && f.Owner != opts.Owner {
			continue
		}

		// Name filter: substring (Name) OR exact batch (Names)
		if opts.Name != "" || nameSet != nil {
			nameMatch := opts.Name != "" && strings.Contains(f.Name, opts.Name)
			if !nameMatch && nameSet != nil {
				_, nameMatch = nameSet[f.Name]
			}
			if !nameMatch {
				continue
			}
		}

		if opts.RelKind != "" && !hasRelation(f, opts.RelKind, "") {
			continue
		}

		if opts.Prop != "" {
			v, ok := f.Props[opts.Prop]
			if !ok {
				continue
			}
			if opts.PropValue != "" && fmt.Sprintf("%v", v) != opts.PropValue {
				continue
			}
		}

		matched = append(matched, f)
	}

	total := len(matched)

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, total
		}
		matched = matched[opts.Offset:]
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, total
}

// ReverseLookup returns all facts that have a relation targeting the given name.
// If relKind is non-empty, only relations of that kind are considered.
func (s *Store) ReverseLookup(targetName, relKind string) []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Fact
	for _, f := range s.facts {
		if hasRelation(f, relKind, targetName) {
			result = append(result, f)
		}
	}
	return result
}

func hasRelation(f Fact, kind, target string) bool {
	for _, r := range f.Relations {
		if (kind == "" || r.Kind == kind) && (target == "" || r.Target == target) {
			return true
		}
	}
	return false
}

// mergeIntoSet combines a single value and a slice into a set.
// Empty strings are ignored.
func mergeIntoSet(single string, multi []string) map[string]struct{} {
	set := make(map[string]struct{}, len(multi)+1)
	if single != "" {
		set[single] = struct{}{}
	}
	for _, v := range multi {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// Clear removes all facts from the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = nil
	s.byKind = make(map[string][]int)
	s.byName = make(map[string][]int)
	s.byOwner = make(map[string][]int)
}

// Replace swaps the store's contents for ff.
func (s *Store) Replace(ff []Fact) {
	s.Clear()
	s.Add(ff...)
}

// WriteJSONL writes all facts as JSONL to the given writer. Property maps
// are written with sorted keys.
func (s *Store) WriteJSONL(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.facts {
		if err := json.MarshalWrite(w, f, json.Deterministic(true)); err != nil {
			return fmt.Errorf("encoding fact %q: %w", f.Name, err)
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSONLFile writes all facts as JSONL to the given file path.
func (s *Store) WriteJSONLFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	if err := s.WriteJSONL(bw); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadJSONL reads facts from a JSONL reader and adds them to the store.
func (s *Store) ReadJSONL(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	// Allow large lines
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var f Fact
		if err := json.Unmarshal(line, &f); err != nil {
			return fmt.Errorf("decoding fact: %w", err)
		}
		s.Add(f)
	}
	return scanner.Err()
}

// ReadJSONLFile reads facts from a JSONL file and adds them to the store.
func (s *Store) ReadJSONLFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return s.ReadJSONL(f)
}

func (s *Store) collectByIndex(indices []int) []Fact {
	result := make([]Fact, 0, len(indices))
	for _, idx := range indices {
		if idx < len(s.facts) {
			result = append(result, s.facts[idx])
		}
	}
	return result
}
