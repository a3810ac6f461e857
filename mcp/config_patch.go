package mcp

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"Toyol/pkg/types"

	"github.com/tidwall/gjson"
)

// applyConfigPatch merges a partial JSON configuration onto cfg and returns
// the top-level keys it changed. The enabled flag is not patchable here.
func applyConfigPatch(cfg *Configuration, patch string) ([]string, error) {
	if !gjson.Valid(patch) {
		return nil, fmt.Errorf("patch is not valid JSON")
	}
	root := gjson.Parse(patch)
	if !root.IsObject() {
		return nil, fmt.Errorf("patch must be a JSON object")
	}

	var changed []string
	var err error
	root.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		switch name {
		case "categories":
			err = patchCategories(cfg, value)
		case "targets":
			err = patchTargets(cfg, value)
		case "timeMode":
			cfg.TimeMode = types.TimeMode(value.String())
		case "manualHours":
			err = patchHours(cfg, value)
		case "refreshIntervalMs":
			cfg.RefreshIntervalMs = types.ParseDecimal(value.String())
		case "airportPolicy":
			cfg.AirportPolicy = types.AirportPolicy(value.String())
		case "serviceEnabled":
			err = fmt.Errorf("use clicker_set_enabled to change serviceEnabled")
		default:
			err = fmt.Errorf("unknown key %q", name)
		}
		if err != nil {
			return false
		}
		changed = append(changed, name)
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return nil, fmt.Errorf("patch is empty")
	}
	sort.Strings(changed)
	return changed, cfg.Validate()
}

func patchCategories(cfg *Configuration, value gjson.Result) error {
	if !value.IsObject() {
		return fmt.Errorf("categories must be an object of name: bool")
	}
	var err error
	value.ForEach(func(k, v gjson.Result) bool {
		if !v.IsBool() {
			err = fmt.Errorf("category %q must be true or false", k.String())
			return false
		}
		cfg.CategoryFilters[k.String()] = v.Bool()
		return true
	})
	return err
}

// patchTargets merges each target object onto the existing target, so a
// patch can flip one field without restating the rest
func patchTargets(cfg *Configuration, value gjson.Result) error {
	if !value.IsObject() {
		return fmt.Errorf("targets must be an object of category: target")
	}
	var err error
	value.ForEach(func(k, v gjson.Result) bool {
		if !v.IsObject() {
			err = fmt.Errorf("target %q must be an object", k.String())
			return false
		}
		target := cfg.PerCategoryTarget[k.String()]
		if uerr := json.Unmarshal([]byte(v.Raw), &target); uerr != nil {
			err = fmt.Errorf("target %q: %w", k.String(), uerr)
			return false
		}
		cfg.PerCategoryTarget[k.String()] = target
		return true
	})
	return err
}

// patchHours accepts a list of selected hours, which replaces the selection,
// or an object of hour: bool, which edits it
func patchHours(cfg *Configuration, value gjson.Result) error {
	switch {
	case value.IsArray():
		hours := make(map[int]bool, 24)
		for h := 0; h < 24; h++ {
			hours[h] = false
		}
		for _, v := range value.Array() {
			if v.Type != gjson.Number {
				return fmt.Errorf("manualHours entries must be numbers")
			}
			hours[int(v.Int())] = true
		}
		cfg.ManualHours = hours
		return nil

	case value.IsObject():
		var err error
		value.ForEach(func(k, v gjson.Result) bool {
			h, perr := strconv.Atoi(k.String())
			if perr != nil || !v.IsBool() {
				err = fmt.Errorf("manualHours entry %q must be hour: bool", k.String())
				return false
			}
			cfg.ManualHours[h] = v.Bool()
			return true
		})
		return err
	}
	return fmt.Errorf("manualHours must be a list or an object")
}
