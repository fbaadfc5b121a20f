// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package frontmatter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olegiv/postsync/internal/model"
	"github.com/olegiv/postsync/internal/slug"
)

// UntitledTitle is used when no title can be found but the body has content.
const UntitledTitle = "untitled"

// ErrNoTitle is returned when neither the metadata nor the body yields a title.
var ErrNoTitle = errors.New("no usable title in front matter or body")

// dateLayouts are accepted when reading dates, most specific first.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

// Repair turns raw decoded front matter into Metadata. It is a pure
// function: now is used for missing dates and body only for title recovery.
func Repair(raw map[string]any, body string, now time.Time) (Metadata, []RepairNote, error) {
	var (
		meta  Metadata
		notes []RepairNote
	)
	note := func(field, format string, args ...any) {
		notes = append(notes, RepairNote{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		fields[strings.ToLower(strings.TrimSpace(k))] = v
	}

	// title
	switch v := fields["title"].(type) {
	case string:
		meta.Title = strings.TrimSpace(v)
	case nil:
	default:
		meta.Title = strings.TrimSpace(fmt.Sprint(v))
		note("title", "coerced %T to string", v)
	}
	if meta.Title == "" {
		switch heading := FirstHeading(body); {
		case heading != "":
			meta.Title = heading
			note("title", "missing; taken from first heading")
		case strings.TrimSpace(body) != "":
			meta.Title = UntitledTitle
			note("title", "missing; set to %q", UntitledTitle)
		default:
			return Metadata{}, notes, ErrNoTitle
		}
	}

	// date
	if d, ok := parseDate(fields["date"]); ok {
		meta.Date = d
	} else {
		meta.Date = now
		if fields["date"] == nil {
			note("date", "missing; set to current time")
		} else {
			note("date", "invalid value %v; set to current time", fields["date"])
		}
	}

	// updated
	if v, present := fields["updated"]; present && v != nil {
		if d, ok := parseDate(v); ok {
			meta.Updated = d
		} else {
			note("updated", "invalid value %v; dropped", v)
		}
	}

	// categories
	cats, how := stringList(fields["categories"])
	if how == listWrapped {
		note("categories", "not a list; wrapped into one")
	}
	if len(cats) == 0 {
		cats = []string{model.DefaultCategory}
		note("categories", "missing; defaulted to %q", model.DefaultCategory)
	}
	meta.Categories = cats

	// tags
	tags, how := stringList(fields["tags"])
	if how == listWrapped {
		note("tags", "not a list; wrapped into one")
	}
	if tags == nil {
		tags = []string{}
	}
	meta.Tags = tags

	// description
	switch v := fields["description"].(type) {
	case string:
		meta.Description = v
	case nil:
	default:
		meta.Description = fmt.Sprint(v)
		note("description", "coerced %T to string", v)
	}

	// image
	for _, key := range []string{"image", "cover"} {
		if v, ok := fields[key].(string); ok && v != "" {
			meta.Image = v
			break
		}
	}

	// slug
	switch v := fields["slug"].(type) {
	case string:
		if slug.IsValid(v) {
			meta.Slug = v
		} else if v != "" {
			note("slug", "invalid slug %q ignored", v)
		}
	case nil:
	default:
		note("slug", "non-string slug ignored")
	}

	// flags
	meta.Published = flag(fields, "published", true, note)
	meta.Featured = flag(fields, "featured", false, note)

	return meta, notes, nil
}

// parseDate accepts time values and common textual layouts.
func parseDate(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, !d.IsZero()
	case string:
		s := strings.TrimSpace(d)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

type listShape int

const (
	listAbsent listShape = iota
	listOK
	listWrapped
)

// stringList normalizes a YAML value into a list of non-empty strings.
func stringList(v any) ([]string, listShape) {
	switch l := v.(type) {
	case nil:
		return nil, listAbsent
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if item == nil {
				continue
			}
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
		return out, listOK
	case []string:
		return l, listOK
	case string:
		if s := strings.TrimSpace(l); s != "" {
			return []string{s}, listWrapped
		}
		return nil, listAbsent
	default:
		return []string{fmt.Sprint(l)}, listWrapped
	}
}

// flag reads a boolean field, coercing other types by truthiness.
func flag(fields map[string]any, key string, def bool, note func(field, format string, args ...any)) bool {
	v, present := fields[key]
	if !present || v == nil {
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	b := truthy(v)
	note(key, "coerced %v to %t", v, b)
	return b
}

// truthy mirrors loose truthiness: empty, zero and negative words are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		switch s {
		case "", "0", "false", "no", "off", "n", "f":
			return false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f != 0
		}
		return true
	case int:
		return t != 0
	case int64:
		return t != 0
	case uint64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}
