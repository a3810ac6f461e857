package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"Toyol/pkg/criteria"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Config for creating a Manager
type Config struct {
	Timeout time.Duration
	Logger  *zerolog.Logger
}

// Manager holds the loaded filters. A job passes only if every enabled filter accepts it.
type Manager struct {
	mu      sync.RWMutex
	plugins map[string]*Plugin
	timeout time.Duration
	log     zerolog.Logger
}

// NewManager creates an empty Manager
func NewManager(cfg Config) *Manager {
	m := &Manager{
		plugins: make(map[string]*Plugin),
		timeout: cfg.Timeout,
		log:     zerolog.Nop(),
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	if cfg.Logger != nil {
		m.log = *cfg.Logger
	}
	return m
}

// ========================================
// Loading
// ========================================

// LoadFile compiles a script file; its ID is the file name without extension
func (m *Manager) LoadFile(path string) (*Plugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin: %w", err)
	}
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	p, err := m.Load(id, string(data))
	if err != nil {
		return nil, err
	}
	p.Metadata.Path = path
	return p, nil
}

// Load compiles source and registers it under id, replacing any previous version
func (m *Manager) Load(id, source string) (*Plugin, error) {
	if id == "" {
		return nil, fmt.Errorf("plugin id is required")
	}
	p := &Plugin{
		Metadata:   Metadata{ID: id, Name: id, Enabled: true, LoadedAt: time.Now()},
		SourceCode: source,
		State:      make(map[string]interface{}),
	}
	if err := m.compile(p); err != nil {
		return nil, fmt.Errorf("plugin %s: %w", id, err)
	}

	m.mu.Lock()
	m.plugins[id] = p
	m.mu.Unlock()

	m.log.Info().Str("plugin", id).Msg("Filter loaded")
	return p, nil
}

func (m *Manager) compile(p *Plugin) error {
	vm := goja.New()
	injectHelpers(vm, p, m.log, nil)

	if _, err := vm.RunString(p.SourceCode); err != nil {
		return fmt.Errorf("script failed: %w", err)
	}

	filterVal := vm.Get("filter")
	if filterVal == nil || goja.IsUndefined(filterVal) || goja.IsNull(filterVal) {
		return ErrNoFilterFunc
	}
	obj := filterVal.ToObject(vm)

	accept, ok := goja.AssertFunction(obj.Get("accept"))
	if !ok {
		return ErrNoFilterFunc
	}

	if name := obj.Get("name"); name != nil && !goja.IsUndefined(name) {
		p.Metadata.Name = name.String()
	}
	if desc := obj.Get("description"); desc != nil && !goja.IsUndefined(desc) {
		p.Metadata.Description = desc.String()
	}

	if onInit, ok := goja.AssertFunction(obj.Get("onInit")); ok {
		if _, err := onInit(goja.Undefined(), newContext(vm, p, m.log, nil)); err != nil {
			m.log.Warn().Err(err).Str("plugin", p.Metadata.ID).Msg("Filter onInit failed")
		}
	}

	p.vm = vm
	p.accept = accept
	return nil
}

// Unload removes a filter
func (m *Manager) Unload(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plugins[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.plugins, id)
	return nil
}

// SetEnabled turns a filter on or off without unloading it
func (m *Manager) SetEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plugins[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.Metadata.Enabled = enabled
	return nil
}

// List returns the loaded filters sorted by ID
func (m *Manager) List() []Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Metadata, 0, len(m.plugins))
	for _, p := range m.plugins {
		out = append(out, p.Metadata)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) enabled() []*Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Plugin
	for _, p := range m.plugins {
		if p.Metadata.Enabled {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metadata.ID < out[j].Metadata.ID })
	return out
}

// ========================================
// Evaluation
// ========================================

// Accept implements engine.JobFilter: every enabled filter must accept.
// Any script error or timeout rejects the job.
func (m *Manager) Accept(ctx context.Context, job criteria.Job) (bool, error) {
	for _, p := range m.enabled() {
		ok, _, err := m.run(ctx, p, job)
		if err != nil {
			return false, fmt.Errorf("plugin %s: %w", p.Metadata.ID, err)
		}
		if !ok {
			m.log.Debug().Str("plugin", p.Metadata.ID).Msg("Job rejected by filter")
			return false, nil
		}
	}
	return true, nil
}

// Evaluate runs every enabled filter on job and reports each verdict.
// Used for dry runs, so it does not stop at the first rejection.
func (m *Manager) Evaluate(ctx context.Context, job criteria.Job) []Verdict {
	var verdicts []Verdict
	for _, p := range m.enabled() {
		start := time.Now()
		ok, logs, err := m.run(ctx, p, job)
		v := Verdict{
			PluginID: p.Metadata.ID,
			Accepted: ok && err == nil,
			Logs:     logs,
			Duration: time.Since(start).Milliseconds(),
		}
		if err != nil {
			v.Error = err.Error()
		}
		verdicts = append(verdicts, v)
	}
	return verdicts
}

type outcome struct {
	ok  bool
	err error
}

// run calls accept with a timeout, interrupting the VM when it expires
func (m *Manager) run(ctx context.Context, p *Plugin, job criteria.Job) (bool, []string, error) {
	resultCh := make(chan outcome, 1)
	var logs []string

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: fmt.Errorf("plugin VM panic: %v", r)}
			}
		}()

		p.mu.Lock()
		defer p.mu.Unlock()

		if p.vm == nil || p.accept == nil {
			resultCh <- outcome{err: ErrNoFilterFunc}
			return
		}
		p.vm.ClearInterrupt()

		jobVal, err := toJSValue(p.vm, job)
		if err != nil {
			resultCh <- outcome{err: err}
			return
		}
		resultVal, err := p.accept(goja.Undefined(), jobVal, newContext(p.vm, p, m.log, &logs))
		if err != nil {
			resultCh <- outcome{err: err}
			return
		}
		if resultVal == nil || goja.IsUndefined(resultVal) || goja.IsNull(resultVal) {
			resultCh <- outcome{err: ErrNoDecision}
			return
		}
		resultCh <- outcome{ok: resultVal.ToBoolean()}
	}()

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res.ok, m.collectLogs(p, &logs), res.err
	case <-timer.C:
		p.vm.Interrupt("timeout")
		m.log.Warn().Str("plugin", p.Metadata.ID).Dur("timeout", m.timeout).Msg("Filter timed out")
		return false, nil, ErrTimeout
	case <-ctx.Done():
		p.vm.Interrupt("cancelled")
		return false, nil, ctx.Err()
	}
}

// collectLogs copies the log lines once the script has released the VM
func (m *Manager) collectLogs(p *Plugin, logs *[]string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), (*logs)...)
}

func toJSValue(vm *goja.Runtime, job criteria.Job) (goja.Value, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}
	return vm.ToValue(obj), nil
}

// ========================================
// Script helpers
// ========================================

func injectHelpers(vm *goja.Runtime, p *Plugin, log zerolog.Logger, logs *[]string) {
	vm.Set("jsonPath", jsonPath)
	vm.Set("matchRegex", matchRegex)
	vm.Set("log", logFunc(p, log, logs))
}

func newContext(vm *goja.Runtime, p *Plugin, log zerolog.Logger, logs *[]string) goja.Value {
	ctx := vm.NewObject()
	ctx.Set("pluginId", p.Metadata.ID)
	ctx.Set("state", p.State)
	ctx.Set("log", logFunc(p, log, logs))
	ctx.Set("jsonPath", jsonPath)
	ctx.Set("getState", func(key string) interface{} {
		return p.State[key]
	})
	ctx.Set("setState", func(key string, value interface{}) {
		p.State[key] = value
	})
	return ctx
}

func logFunc(p *Plugin, log zerolog.Logger, logs *[]string) func(message string, level ...string) {
	return func(message string, level ...string) {
		lvl := "info"
		if len(level) > 0 && level[0] != "" {
			lvl = level[0]
		}
		if logs != nil {
			*logs = append(*logs, fmt.Sprintf("[%s] %s", lvl, message))
		}
		log.Debug().Str("plugin", p.Metadata.ID).Str("level", lvl).Msg(message)
	}
}

// jsonPath queries obj with a gjson path; missing paths yield null
func jsonPath(obj interface{}, path string) interface{} {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil
	}
	result := gjson.GetBytes(data, path)
	if !result.Exists() {
		return nil
	}
	return result.Value()
}

// matchRegex returns the submatches of pattern in text, or null
func matchRegex(pattern, text string) interface{} {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	matches := re.FindStringSubmatch(text)
	if matches == nil {
		return nil
	}
	return matches
}
