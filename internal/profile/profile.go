// Package profile loads and validates generation profiles from YAML files.
package profile

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maruel/natural"
	"gopkg.in/yaml.v3"

	"vidmatrix/internal/model"
)

var ErrNoProfiles = errors.New("no profiles found")

const defaultImageParam = "image"

type ValidationError struct {
	File   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("profile %s: %s", e.File, e.Reason)
	}
	return fmt.Sprintf("profile %s: %s: %s", e.File, e.Field, e.Reason)
}

// Load reads every *.yaml/*.yml file in dir in natural name order. Any invalid
// profile fails the whole load; all problems are reported together.
func Load(dir string) ([]model.Profile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: directory %s does not exist", ErrNoProfiles, dir)
		}
		return nil, fmt.Errorf("read profiles directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoProfiles, dir)
	}
	sort.Slice(names, func(i, j int) bool { return natural.Less(names[i], names[j]) })

	var (
		profiles []model.Profile
		errs     []error
		seen     = map[string]string{}
	)
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("read profile %s: %w", path, err))
			continue
		}
		p, err := Parse(name, data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, ok := seen[p.Name]; ok {
			errs = append(errs, &ValidationError{File: name, Reason: fmt.Sprintf("duplicate profile name %q (also %s)", p.Name, prev)})
			continue
		}
		seen[p.Name] = name
		p.SourcePath = path
		profiles = append(profiles, p)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return profiles, nil
}

// Parse validates one profile document. file names the source and provides the profile name.
func Parse(file string, data []byte) (model.Profile, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return model.Profile{}, &ValidationError{File: file, Reason: fmt.Sprintf("invalid YAML: %v", err)}
	}
	v := validator{file: file}
	name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))

	p := model.Profile{Name: name, Nickname: name}

	if section, ok := v.section(doc, "Model"); ok {
		p.ModelID = v.requiredString(section, "Model.endpoint", "endpoint")
		if nick, present := section["code-nickname"]; present && nick != nil {
			if s, ok := nick.(string); ok && strings.TrimSpace(s) != "" {
				p.Nickname = strings.TrimSpace(s)
			} else {
				v.fail("Model.code-nickname", "must be a non-empty string")
			}
		}
	}

	if section, ok := v.section(doc, "pricing"); ok {
		if raw, present := section["cost_per_second"]; !present {
			v.fail("pricing.cost_per_second", "is required")
		} else if rate, ok := asNumber(raw); !ok {
			v.fail("pricing.cost_per_second", fmt.Sprintf("must be a number, got %v", raw))
		} else if rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
			v.fail("pricing.cost_per_second", fmt.Sprintf("must be a non-negative number, got %v", rate))
		} else {
			p.Pricing.CostPerSecond = rate
		}
	}

	p.Duration = v.durationRule(doc)

	if raw, present := doc["params"]; !present {
		v.fail("params", "section is required (may be empty)")
	} else if raw == nil {
		p.Parameters = map[string]any{}
	} else if m, ok := normalizeMap(raw); ok {
		p.Parameters = m
	} else {
		v.fail("params", "must be a mapping")
	}

	p.ImageParam = defaultImageParam
	if raw, present := doc["image_param_name"]; present && raw != nil {
		if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
			p.ImageParam = strings.TrimSpace(s)
		} else {
			v.fail("image_param_name", "must be a non-empty string")
		}
	}
	p.PromptPrefix = v.optionalString(doc, "prompt_prefix")
	p.PromptSuffix = v.optionalString(doc, "prompt_suffix")

	if len(v.errs) > 0 {
		return model.Profile{}, errors.Join(v.errs...)
	}
	return p, nil
}

type validator struct {
	file string
	errs []error
}

func (v *validator) fail(field, reason string) {
	v.errs = append(v.errs, &ValidationError{File: v.file, Field: field, Reason: reason})
}

func (v *validator) section(doc map[string]any, key string) (map[string]any, bool) {
	raw, present := doc[key]
	if !present || raw == nil {
		v.fail(key, "section is required")
		return nil, false
	}
	m, ok := normalizeMap(raw)
	if !ok {
		v.fail(key, "must be a mapping")
		return nil, false
	}
	return m, true
}

func (v *validator) requiredString(m map[string]any, field, key string) string {
	raw, present := m[key]
	if !present || raw == nil {
		v.fail(field, "is required")
		return ""
	}
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		v.fail(field, "must be a non-empty string")
		return ""
	}
	return strings.TrimSpace(s)
}

func (v *validator) optionalString(m map[string]any, key string) string {
	raw, present := m[key]
	if !present || raw == nil {
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		v.fail(key, fmt.Sprintf("must be a string, got %T", raw))
		return ""
	}
	return s
}

func (v *validator) requiredInt(m map[string]any, key string) (int, bool) {
	raw, present := m[key]
	if !present || raw == nil {
		v.fail(key, "is required")
		return 0, false
	}
	n, ok := asInt(raw)
	if !ok {
		v.fail(key, fmt.Sprintf("must be an integer, got %v", raw))
		return 0, false
	}
	return n, true
}

func (v *validator) durationRule(doc map[string]any) model.DurationRule {
	var rule model.DurationRule

	switch raw := doc["duration_type"].(type) {
	case nil:
		v.fail("duration_type", "is required")
	case string:
		switch model.DurationType(raw) {
		case model.DurationFrames, model.DurationSeconds:
			rule.Type = model.DurationType(raw)
		default:
			v.fail("duration_type", fmt.Sprintf("must be frames or seconds, got %q", raw))
		}
	default:
		v.fail("duration_type", fmt.Sprintf("must be frames or seconds, got %v", raw))
	}

	if fps, ok := v.requiredInt(doc, "fps"); ok {
		if fps <= 0 {
			v.fail("fps", fmt.Sprintf("must be positive, got %d", fps))
		}
		rule.FPS = fps
	}
	minOK, maxOK := false, false
	if n, ok := v.requiredInt(doc, "duration_min"); ok {
		if n < 0 {
			v.fail("duration_min", fmt.Sprintf("must be non-negative, got %d", n))
		} else {
			minOK = true
		}
		rule.Min = n
	}
	if n, ok := v.requiredInt(doc, "duration_max"); ok {
		if n <= 0 {
			v.fail("duration_max", fmt.Sprintf("must be positive, got %d", n))
		} else {
			maxOK = true
		}
		rule.Max = n
	}
	if minOK && maxOK && rule.Min > rule.Max {
		v.fail("duration_min", fmt.Sprintf("(%d) cannot be greater than duration_max (%d)", rule.Min, rule.Max))
	}
	rule.OutputParam = v.requiredString(doc, "duration_param_name", "duration_param_name")
	return rule
}

func asNumber(raw any) (float64, bool) {
	switch n := raw.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asInt(raw any) (int, bool) {
	switch n := raw.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// normalizeMap converts YAML mappings into map[string]any, recursively.
func normalizeMap(raw any) (map[string]any, bool) {
	switch m := raw.(type) {
	case map[string]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = normalizeValue(v)
		}
		return out, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[fmt.Sprint(k)] = normalizeValue(v)
		}
		return out, true
	default:
		return nil, false
	}
}

func normalizeValue(raw any) any {
	if m, ok := normalizeMap(raw); ok {
		return m
	}
	if list, ok := raw.([]any); ok {
		out := make([]any, len(list))
		for i, v := range list {
			out[i] = normalizeValue(v)
		}
		return out
	}
	return raw
}
