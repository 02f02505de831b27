package checklog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ericfisherdev/checkgate/internal/domain/model"
	"github.com/ericfisherdev/checkgate/internal/domain/port/driven"
)

// Record keys of the per-revision note.
const (
	keyChecks    = "checks"
	keyState     = "state"
	keyMessage   = "message"
	keyURL       = "url"
	keyStarted   = "started"
	keyFinished  = "finished"
	keyCreated   = "created"
	keyUpdated   = "updated"
	keyOverrides = "overrides"
)

// revisionNote is the decoded note blob of one revision. Records stay raw
// until requested so a corrupt record only fails its own decoding.
type revisionNote struct {
	checks map[string]json.RawMessage
	extra  map[string]json.RawMessage
}

func newRevisionNote() *revisionNote {
	return &revisionNote{
		checks: make(map[string]json.RawMessage),
		extra:  make(map[string]json.RawMessage),
	}
}

func parseRevisionNote(b []byte) (*revisionNote, error) {
	n := newRevisionNote()
	if len(b) == 0 {
		return n, nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		return nil, fmt.Errorf("%w: decode revision note: %v", driven.ErrConfigInvalid, err)
	}
	for k, v := range top {
		if k == keyChecks {
			if err := json.Unmarshal(v, &n.checks); err != nil {
				return nil, fmt.Errorf("%w: decode %q: %v", driven.ErrConfigInvalid, keyChecks, err)
			}
			continue
		}
		n.extra[k] = v
	}
	if n.checks == nil {
		n.checks = make(map[string]json.RawMessage)
	}
	return n, nil
}

func (n *revisionNote) encode() ([]byte, error) {
	top := make(map[string]any, len(n.extra)+1)
	for k, v := range n.extra {
		top[k] = v
	}
	top[keyChecks] = n.checks
	b, err := json.MarshalIndent(top, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode revision note: %w", err)
	}
	return append(b, '\n'), nil
}

// checkRecord is the stored form of a check. Every scalar is a string; nil
// means absent.
type checkRecord struct {
	State     *string
	Message   *string
	URL       *string
	Started   *string
	Finished  *string
	Created   *string
	Updated   *string
	Overrides []overrideRecord
	extra     map[string]json.RawMessage
}

type overrideRecord struct {
	Overrider string `json:"overrider"`
	Reason    string `json:"reason"`
	Created   string `json:"created"`
}

func decodeCheckRecord(raw json.RawMessage) (*checkRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: decode check record: %v", driven.ErrConfigInvalid, err)
	}

	r := &checkRecord{extra: make(map[string]json.RawMessage)}
	scalars := map[string]**string{
		keyState:    &r.State,
		keyMessage:  &r.Message,
		keyURL:      &r.URL,
		keyStarted:  &r.Started,
		keyFinished: &r.Finished,
		keyCreated:  &r.Created,
		keyUpdated:  &r.Updated,
	}

	for k, v := range fields {
		if dst, ok := scalars[k]; ok {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, fmt.Errorf("%w: field %q is not a string", driven.ErrConfigInvalid, k)
			}
			*dst = &s
			continue
		}
		if k == keyOverrides {
			if err := json.Unmarshal(v, &r.Overrides); err != nil {
				return nil, fmt.Errorf("%w: field %q: %v", driven.ErrConfigInvalid, k, err)
			}
			continue
		}
		r.extra[k] = v
	}
	return r, nil
}

func (r *checkRecord) encode() (json.RawMessage, error) {
	out := make(map[string]any, len(r.extra)+8)
	for k, v := range r.extra {
		out[k] = v
	}
	put := func(k string, v *string) {
		if v != nil {
			out[k] = *v
		}
	}
	put(keyState, r.State)
	put(keyMessage, r.Message)
	put(keyURL, r.URL)
	put(keyStarted, r.Started)
	put(keyFinished, r.Finished)
	put(keyCreated, r.Created)
	put(keyUpdated, r.Updated)
	if len(r.Overrides) > 0 {
		out[keyOverrides] = r.Overrides
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode check record: %w", err)
	}
	return b, nil
}

// toCheck converts the record. Missing state means NOT_STARTED; created and
// updated are mandatory; started and finished must parse when present.
func (r *checkRecord) toCheck(key model.CheckKey) (*model.Check, error) {
	c := &model.Check{Key: key, State: model.CheckStateNotStarted}

	if r.State != nil {
		st, ok := model.ParseCheckState(*r.State)
		if !ok {
			return nil, fmt.Errorf("%w: check %s: unknown state %q", driven.ErrConfigInvalid, key, *r.State)
		}
		c.State = st
	}

	var err error
	if c.Created, err = requiredTime(key, keyCreated, r.Created); err != nil {
		return nil, err
	}
	if c.Updated, err = requiredTime(key, keyUpdated, r.Updated); err != nil {
		return nil, err
	}
	if c.Started, err = optionalTime(key, keyStarted, r.Started); err != nil {
		return nil, err
	}
	if c.Finished, err = optionalTime(key, keyFinished, r.Finished); err != nil {
		return nil, err
	}

	if r.Message != nil {
		c.Message = *r.Message
	}
	if r.URL != nil {
		c.URL = *r.URL
	}

	for _, o := range r.Overrides {
		created, err := parseTime(o.Created)
		if err != nil {
			return nil, fmt.Errorf("%w: check %s: override by %q: %v", driven.ErrConfigInvalid, key, o.Overrider, err)
		}
		c.Overrides = append(c.Overrides, model.CheckOverride{
			Overrider: o.Overrider,
			Reason:    o.Reason,
			Created:   created,
		})
	}
	return c, nil
}

// applyUpdate merges u into the record field by field and reports whether
// anything changed.
func (r *checkRecord) applyUpdate(u model.CheckUpdate) (bool, error) {
	modified := false

	if u.State != nil {
		modified = setString(&r.State, string(*u.State)) || modified
	}
	if u.Message != nil {
		modified = setString(&r.Message, *u.Message) || modified
	}
	if u.URL != nil {
		modified = setString(&r.URL, *u.URL) || modified
	}
	if u.Started != nil {
		modified = setTime(&r.Started, *u.Started) || modified
	}
	if u.Finished != nil {
		modified = setTime(&r.Finished, *u.Finished) || modified
	}
	if u.NewOverride != nil {
		for _, o := range r.Overrides {
			if o.Overrider == u.NewOverride.Overrider {
				return false, fmt.Errorf("%w: %s", driven.ErrDuplicateOverride, o.Overrider)
			}
		}
		r.Overrides = append(r.Overrides, overrideRecord{
			Overrider: u.NewOverride.Overrider,
			Reason:    u.NewOverride.Reason,
			Created:   formatTime(u.NewOverride.Created),
		})
		modified = true
	}
	return modified, nil
}

// setString sets *dst to v, or clears it when v is empty.
func setString(dst **string, v string) bool {
	if v == "" {
		if *dst == nil {
			return false
		}
		*dst = nil
		return true
	}
	if *dst != nil && **dst == v {
		return false
	}
	*dst = &v
	return true
}

// setTime sets *dst to t, or clears it when t is zero.
func setTime(dst **string, t time.Time) bool {
	if t.IsZero() {
		return setString(dst, "")
	}
	return setString(dst, formatTime(t))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts RFC 3339 with or without fractional seconds, plus the
// space-separated form older writers produced.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as time", s)
}

func requiredTime(key model.CheckKey, field string, v *string) (time.Time, error) {
	if v == nil {
		return time.Time{}, fmt.Errorf("%w: check %s: missing %q", driven.ErrConfigInvalid, key, field)
	}
	t, err := parseTime(*v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: check %s: field %q: %v", driven.ErrConfigInvalid, key, field, err)
	}
	return t, nil
}

func optionalTime(key model.CheckKey, field string, v *string) (time.Time, error) {
	if v == nil {
		return time.Time{}, nil
	}
	t, err := parseTime(*v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: check %s: field %q: %v", driven.ErrConfigInvalid, key, field, err)
	}
	return t, nil
}
