package checklog

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
)

// DefaultCheckerQuery is the query stored for new checkers.
const DefaultCheckerQuery = "status:open"

// checkerConfig is the decoded checker.yaml. Keys this version does not know
// are kept and written back unchanged.
type checkerConfig map[string]any

func parseCheckerConfig(b []byte) (checkerConfig, error) {
	cfg := checkerConfig{}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", driven.ErrConfigInvalid, checkerConfigFile, err)
	}
	return cfg, nil
}

func (c checkerConfig) encode() ([]byte, error) {
	b, err := yaml.Marshal(map[string]any(c))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", checkerConfigFile, err)
	}
	return b, nil
}

// configField describes how one checker property is stored.
type configField struct {
	key string
	// read copies the stored value into the checker.
	read func(cfg checkerConfig, c *model.Checker) error
	// initNew writes the value of a freshly created checker.
	initNew func(cfg checkerConfig, creation model.CheckerCreation, now time.Time)
	// update applies the property of u, if set, and reports whether cfg changed.
	update func(cfg checkerConfig, u model.CheckerUpdate) bool
}

var checkerFields = []configField{
	{
		key: "uuid",
		read: func(cfg checkerConfig, c *model.Checker) error {
			s, err := requiredString(cfg, "uuid")
			if err != nil {
				return err
			}
			uuid, err := model.ParseCheckerUUID(s)
			if err != nil {
				return fmt.Errorf("%w: %v", driven.ErrConfigInvalid, err)
			}
			c.UUID = uuid
			return nil
		},
		initNew: func(cfg checkerConfig, creation model.CheckerCreation, _ time.Time) {
			cfg["uuid"] = creation.UUID.String()
		},
	},
	{
		key: "name",
		read: func(cfg checkerConfig, c *model.Checker) (err error) {
			c.Name, err = requiredString(cfg, "name")
			return err
		},
		initNew: func(cfg checkerConfig, creation model.CheckerCreation, _ time.Time) {
			cfg["name"] = creation.Name
		},
		update: func(cfg checkerConfig, u model.CheckerUpdate) bool {
			return u.Name != nil && setConfigString(cfg, "name", *u.Name)
		},
	},
	{
		key: "description",
		read: func(cfg checkerConfig, c *model.Checker) (err error) {
			c.Description, err = optionalString(cfg, "description")
			return err
		},
		update: func(cfg checkerConfig, u model.CheckerUpdate) bool {
			return u.Description != nil && setConfigString(cfg, "description", *u.Description)
		},
	},
	{
		key: "url",
		read: func(cfg checkerConfig, c *model.Checker) (err error) {
			c.URL, err = optionalString(cfg, "url")
			return err
		},
		update: func(cfg checkerConfig, u model.CheckerUpdate) bool {
			return u.URL != nil && setConfigString(cfg, "url", *u.URL)
		},
	},
	{
		key: "repository",
		read: func(cfg checkerConfig, c *model.Checker) (err error) {
			c.Repository, err = requiredString(cfg, "repository")
			return err
		},
		initNew: func(cfg checkerConfig, creation model.CheckerCreation, _ time.Time) {
			cfg["repository"] = creation.Repository
		},
		update: func(cfg checkerConfig, u model.CheckerUpdate) bool {
			return u.Repository != nil && setConfigString(cfg, "repository", *u.Repository)
		},
	},
	{
		key: "status",
		read: func(cfg checkerConfig, c *model.Checker) error {
			s, err := requiredString(cfg, "status")
			if err != nil {
				return err
			}
			st, ok := model.ParseCheckerStatus(s)
			if !ok {
				return fmt.Errorf("%w: unknown status %q", driven.ErrConfigInvalid, s)
			}
			c.Status = st
			return nil
		},
		initNew: func(cfg checkerConfig, _ model.CheckerCreation, _ time.Time) {
			cfg["status"] = string(model.CheckerStatusEnabled)
		},
		update: func(cfg checkerConfig, u model.CheckerUpdate) bool {
			return u.Status != nil && setConfigString(cfg, "status", string(*u.Status))
		},
	},
	{
		key: "blocking",
		read: func(cfg checkerConfig, c *model.Checker) error {
			raw, ok := cfg["blocking"]
			if !ok || raw == nil {
				return nil
			}
			list, ok := raw.([]any)
			if !ok {
				return fmt.Errorf("%w: %q is not a list", driven.ErrConfigInvalid, "blocking")
			}
			seen := make(map[model.BlockingCondition]bool, len(list))
			for _, v := range list {
				s, ok := v.(string)
				if !ok {
					return fmt.Errorf("%w: blocking condition %v is not a string", driven.ErrConfigInvalid, v)
				}
				bc, ok := model.ParseBlockingCondition(s)
				if !ok {
					return fmt.Errorf("%w: unknown blocking condition %q", driven.ErrConfigInvalid, s)
				}
				if !seen[bc] {
					seen[bc] = true
					c.BlockingConditions = append(c.BlockingConditions, bc)
				}
			}
			sort.Slice(c.BlockingConditions, func(i, j int) bool {
				return c.BlockingConditions[i] < c.BlockingConditions[j]
			})
			return nil
		},
		update: func(cfg checkerConfig, u model.CheckerUpdate) bool {
			if u.BlockingConditions == nil {
				return false
			}
			want := blockingList(*u.BlockingConditions)
			if len(want) == 0 {
				if _, ok := cfg["blocking"]; !ok {
					return false
				}
				delete(cfg, "blocking")
				return true
			}
			if slices.Equal(want, configStrings(cfg["blocking"])) {
				return false
			}
			vals := make([]any, len(want))
			for i, s := range want {
				vals[i] = s
			}
			cfg["blocking"] = vals
			return true
		},
	},
	{
		key: "query",
		read: func(cfg checkerConfig, c *model.Checker) (err error) {
			c.Query, err = optionalString(cfg, "query")
			return err
		},
		initNew: func(cfg checkerConfig, _ model.CheckerCreation, _ time.Time) {
			cfg["query"] = DefaultCheckerQuery
		},
		update: func(cfg checkerConfig, u model.CheckerUpdate) bool {
			return u.Query != nil && setConfigString(cfg, "query", *u.Query)
		},
	},
	{
		key: "created",
		read: func(cfg checkerConfig, c *model.Checker) (err error) {
			c.Created, err = configTime(cfg, "created")
			return err
		},
		initNew: func(cfg checkerConfig, _ model.CheckerCreation, now time.Time) {
			cfg["created"] = formatTime(now)
		},
	},
	{
		key: "updated",
		read: func(cfg checkerConfig, c *model.Checker) (err error) {
			c.Updated, err = configTime(cfg, "updated")
			return err
		},
		initNew: func(cfg checkerConfig, _ model.CheckerCreation, now time.Time) {
			cfg["updated"] = formatTime(now)
		},
	},
}

// readChecker decodes a checker from its config. refState is the tip the
// config was read at.
func readChecker(cfg checkerConfig, refState driven.ObjectID) (*model.Checker, error) {
	c := &model.Checker{RefState: string(refState)}
	for _, f := range checkerFields {
		if err := f.read(cfg, c); err != nil {
			return nil, fmt.Errorf("checker field %s: %w", f.key, err)
		}
	}
	return c, nil
}

// newCheckerConfig builds the config of a new checker and applies update on
// top of the defaults.
func newCheckerConfig(creation model.CheckerCreation, update model.CheckerUpdate, now time.Time) checkerConfig {
	cfg := checkerConfig{}
	for _, f := range checkerFields {
		if f.initNew != nil {
			f.initNew(cfg, creation, now)
		}
	}
	applyCheckerUpdate(cfg, update)
	return cfg
}

// applyCheckerUpdate applies u and reports whether anything changed. The
// updated timestamp is left to the caller.
func applyCheckerUpdate(cfg checkerConfig, u model.CheckerUpdate) bool {
	modified := false
	for _, f := range checkerFields {
		if f.update != nil && f.update(cfg, u) {
			modified = true
		}
	}
	return modified
}

func requiredString(cfg checkerConfig, key string) (string, error) {
	s, err := optionalString(cfg, key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%w: missing %q", driven.ErrConfigInvalid, key)
	}
	return s, nil
}

func optionalString(cfg checkerConfig, key string) (string, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a string", driven.ErrConfigInvalid, key)
	}
	return s, nil
}

func configTime(cfg checkerConfig, key string) (time.Time, error) {
	switch v := cfg[key].(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		t, err := parseTime(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q: %v", driven.ErrConfigInvalid, key, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("%w: missing %q", driven.ErrConfigInvalid, key)
	}
}

// setConfigString sets key to v, deleting it when v is empty.
func setConfigString(cfg checkerConfig, key, v string) bool {
	old, present := cfg[key]
	if v == "" {
		if !present {
			return false
		}
		delete(cfg, key)
		return true
	}
	if s, ok := old.(string); ok && s == v {
		return false
	}
	cfg[key] = v
	return true
}

func blockingList(bcs []model.BlockingCondition) []string {
	set := make(map[string]bool, len(bcs))
	out := make([]string, 0, len(bcs))
	for _, bc := range bcs {
		if !set[string(bc)] {
			set[string(bc)] = true
			out = append(out, string(bc))
		}
	}
	sort.Strings(out)
	return out
}

func configStrings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, x := range list {
		if s, ok := x.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
