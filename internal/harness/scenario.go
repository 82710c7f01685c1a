package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cachekit/internal/record"
	"github.com/roach88/cachekit/internal/store"
)

// Scenario is one harness run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Capacity is the key/value cache capacity. Zero means the default.
	Capacity int `yaml:"capacity,omitempty"`

	// Order is the list order, "asc" (default) or "desc".
	Order string `yaml:"order,omitempty"`

	// Seed rows are written to the list table before the list cache is
	// created, so only loads bring them into memory.
	Seed []record.Item `yaml:"seed,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is a single cache operation. Exactly one of List or KV is set.
type Step struct {
	List string `yaml:"list,omitempty"`
	KV   string `yaml:"kv,omitempty"`

	Items []record.Item `yaml:"items,omitempty"`

	// Generate appends that many generated items to Items.
	Generate int `yaml:"generate,omitempty"`

	IDs   []int64 `yaml:"ids,omitempty"`
	Limit int     `yaml:"limit,omitempty"`
}

// Op returns the step's qualified operation name, e.g. "list.add".
func (s Step) Op() string {
	if s.List != "" {
		return "list." + s.List
	}
	return "kv." + s.KV
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of list_order, list_count, kv_present, kv_absent,
	// store_count.
	Type string `yaml:"type"`

	// IDs is used by list_order, kv_present and kv_absent.
	IDs []int64 `yaml:"ids,omitempty"`

	// Count is used by list_count and store_count.
	Count int `yaml:"count,omitempty"`

	// Store selects the table for store_count: "list" or "kv".
	Store string `yaml:"store,omitempty"`
}

// Assertion type constants.
const (
	AssertListOrder  = "list_order"
	AssertListCount  = "list_count"
	AssertKVPresent  = "kv_present"
	AssertKVAbsent   = "kv_absent"
	AssertStoreCount = "store_count"
)

// Step operation names.
const (
	ListAdd         = "add"
	ListUpdate      = "update"
	ListUpsert      = "upsert"
	ListRemove      = "remove"
	ListAddBatch    = "add_batch"
	ListUpdateBatch = "update_batch"
	ListUpsertBatch = "upsert_batch"
	ListRemoveBatch = "remove_batch"
	ListLoadPage    = "load_page"
	ListLoadAll     = "load_all"
	ListClear       = "clear"
	ListGetFromDB   = "get_from_db"

	KVPut    = "put"
	KVPutAll = "put_all"
	KVGet    = "get"
	KVRemove = "remove"
	KVClear  = "clear"
)

type stepShape int

const (
	needsNothing stepShape = iota
	needsItems
	needsIDs
)

var listOps = map[string]stepShape{
	ListAdd:         needsItems,
	ListUpdate:      needsItems,
	ListUpsert:      needsItems,
	ListRemove:      needsIDs,
	ListAddBatch:    needsItems,
	ListUpdateBatch: needsItems,
	ListUpsertBatch: needsItems,
	ListRemoveBatch: needsIDs,
	ListLoadPage:    needsNothing,
	ListLoadAll:     needsNothing,
	ListClear:       needsNothing,
	ListGetFromDB:   needsIDs,
}

var kvOps = map[string]stepShape{
	KVPut:    needsItems,
	KVPutAll: needsItems,
	KVGet:    needsIDs,
	KVRemove: needsIDs,
	KVClear:  needsNothing,
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios lists the .yaml and .yml files under dir whose base name
// (without extension) matches filter. An empty filter matches everything.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Capacity < 0 {
		return fmt.Errorf("capacity must not be negative")
	}
	if _, err := store.ParseOrder(s.Order); err != nil {
		return err
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	var (
		shape stepShape
		known bool
	)
	switch {
	case step.List != "" && step.KV != "":
		return fmt.Errorf("only one of list or kv may be set")
	case step.List != "":
		shape, known = listOps[step.List]
	case step.KV != "":
		shape, known = kvOps[step.KV]
	default:
		return fmt.Errorf("one of list or kv is required")
	}
	if !known {
		return fmt.Errorf("unknown operation %q", step.Op())
	}
	if step.Generate < 0 {
		return fmt.Errorf("generate must not be negative")
	}

	switch shape {
	case needsItems:
		if len(step.Items) == 0 && step.Generate == 0 {
			return fmt.Errorf("%s requires items or generate", step.Op())
		}
	case needsIDs:
		if len(step.IDs) == 0 {
			return fmt.Errorf("%s requires ids", step.Op())
		}
	}
	if step.List == ListLoadPage && step.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertListOrder:
		return nil
	case AssertKVPresent, AssertKVAbsent:
		if len(a.IDs) == 0 {
			return fmt.Errorf("%s requires ids", a.Type)
		}
	case AssertListCount:
		if a.Count < 0 {
			return fmt.Errorf("count must not be negative")
		}
	case AssertStoreCount:
		if a.Store != "list" && a.Store != "kv" {
			return fmt.Errorf("store must be list or kv, got %q", a.Store)
		}
		if a.Count < 0 {
			return fmt.Errorf("count must not be negative")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
