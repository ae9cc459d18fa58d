// Package rulestore keeps category rules, SIP rules and recurring templates
// in YAML files under the workspace's rules/ directory.
package rulestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/tally/internal/model"
	"github.com/cleared-dev/tally/internal/rules"
)

// File locations relative to the workspace.
const (
	CategoryRulesFile = "rules/category-rules.yaml"
	SIPRulesFile      = "rules/sip-rules.yaml"
	RecurringFile     = "rules/recurring.yaml"
)

// ErrNotFound is returned when updating a rule that does not exist.
var ErrNotFound = errors.New("rule not found")

type categoryFile struct {
	Rules []model.CategoryRule `yaml:"rules"`
}

type sipFile struct {
	Rules []model.SIPRule `yaml:"rules"`
}

type recurringFile struct {
	Recurring []model.RecurringTransaction `yaml:"recurring"`
}

// Store holds the rule files in memory. Reads return copies.
type Store struct {
	workspace string

	mu        sync.RWMutex
	category  []model.CategoryRule
	sip       []model.SIPRule
	recurring []model.RecurringTransaction
}

// New creates an empty Store for workspace.
func New(workspace string) *Store {
	return &Store{workspace: workspace}
}

// Load reads the rule files from workspace. Missing files are treated as empty.
func Load(workspace string) (*Store, error) {
	s := New(workspace)

	var cf categoryFile
	if err := readYAML(filepath.Join(workspace, CategoryRulesFile), &cf); err != nil {
		return nil, err
	}
	var sf sipFile
	if err := readYAML(filepath.Join(workspace, SIPRulesFile), &sf); err != nil {
		return nil, err
	}
	var rf recurringFile
	if err := readYAML(filepath.Join(workspace, RecurringFile), &rf); err != nil {
		return nil, err
	}

	s.category, s.sip, s.recurring = cf.Rules, sf.Rules, rf.Recurring
	return s, nil
}

// Save writes all three rule files.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := writeYAML(filepath.Join(s.workspace, CategoryRulesFile), categoryFile{Rules: nonNil(s.category)}); err != nil {
		return err
	}
	if err := writeYAML(filepath.Join(s.workspace, SIPRulesFile), sipFile{Rules: nonNil(s.sip)}); err != nil {
		return err
	}
	return writeYAML(filepath.Join(s.workspace, RecurringFile), recurringFile{Recurring: nonNil(s.recurring)})
}

// CategoryRules returns every category rule in file order.
func (s *Store) CategoryRules() []model.CategoryRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.CategoryRule(nil), s.category...)
}

// ActiveCategoryRules returns the active category rules in file order.
func (s *Store) ActiveCategoryRules() []model.CategoryRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CategoryRule
	for _, r := range s.category {
		if r.Active {
			out = append(out, r)
		}
	}
	return out
}

// SIPRules returns every SIP rule in file order.
func (s *Store) SIPRules() []model.SIPRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.SIPRule(nil), s.sip...)
}

// ActiveSIPRules returns the active SIP rules in file order.
func (s *Store) ActiveSIPRules() []model.SIPRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.SIPRule
	for _, r := range s.sip {
		if r.Active {
			out = append(out, r)
		}
	}
	return out
}

// Recurring returns every recurring template.
func (s *Store) Recurring() []model.RecurringTransaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.RecurringTransaction(nil), s.recurring...)
}

// ActiveRecurring returns the active recurring templates.
func (s *Store) ActiveRecurring() []model.RecurringTransaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.RecurringTransaction
	for _, r := range s.recurring {
		if r.Active {
			out = append(out, r)
		}
	}
	return out
}

// AddCategoryRule appends r. Its ID must be unique among category rules.
func (s *Store) AddCategoryRule(r model.CategoryRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.category {
		if existing.ID == r.ID {
			return fmt.Errorf("category rule %s already exists", r.ID)
		}
	}
	s.category = append(s.category, r)
	return nil
}

// AddSIPRule appends r. Its ID must be unique among SIP rules.
func (s *Store) AddSIPRule(r model.SIPRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sip {
		if existing.ID == r.ID {
			return fmt.Errorf("SIP rule %s already exists", r.ID)
		}
	}
	s.sip = append(s.sip, r)
	return nil
}

// AddRecurring appends r. Its ID must be unique among templates.
func (s *Store) AddRecurring(r model.RecurringTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.recurring {
		if existing.ID == r.ID {
			return fmt.Errorf("recurring template %s already exists", r.ID)
		}
	}
	s.recurring = append(s.recurring, r)
	return nil
}

// UpdateRecurring replaces the template with r's ID.
func (s *Store) UpdateRecurring(r model.RecurringTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.recurring {
		if s.recurring[i].ID == r.ID {
			s.recurring[i] = r
			return nil
		}
	}
	return fmt.Errorf("recurring template %s: %w", r.ID, ErrNotFound)
}

// RecordCategoryUsage adds n matches to the category rule id and stamps its
// LastUsed with at.
func (s *Store) RecordCategoryUsage(id string, n int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.category {
		if s.category[i].ID == id {
			for j := 0; j < n; j++ {
				s.category[i] = rules.RecordUsage(s.category[i], at)
			}
			return nil
		}
	}
	return fmt.Errorf("category rule %s: %w", id, ErrNotFound)
}

// RecordSIPUsage adds n matches to the SIP rule id and stamps its LastUsed
// with at.
func (s *Store) RecordSIPUsage(id string, n int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sip {
		if s.sip[i].ID == id {
			for j := 0; j < n; j++ {
				s.sip[i] = rules.RecordSIPUsage(s.sip[i], at)
			}
			return nil
		}
	}
	return fmt.Errorf("SIP rule %s: %w", id, ErrNotFound)
}

// AdvanceRecurring moves template id from the due date from to to. It
// reports false without changing anything when the template is no longer due
// on from.
func (s *Store) AdvanceRecurring(id string, from, to time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.recurring {
		if s.recurring[i].ID != id {
			continue
		}
		if !s.recurring[i].NextDueDate.Equal(from) {
			return false, nil
		}
		s.recurring[i].NextDueDate = to
		return true, nil
	}
	return false, fmt.Errorf("recurring template %s: %w", id, ErrNotFound)
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeYAML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating rules dir: %w", err)
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
