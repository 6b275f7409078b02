// Package env reads typed settings from the process environment. A Reader
// keeps the first malformed value it meets so a service can refuse to start
// instead of running on a silent default.
package env

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Reader struct {
	errs []error
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func (r *Reader) fail(key, v string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%s=%q: %w", key, v, err))
}

// Err joins every malformed value seen so far.
func (r *Reader) Err() error {
	return errors.Join(r.errs...)
}

func (r *Reader) String(key, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

// OneOf lowercases the value and requires it to be one of allowed.
func (r *Reader) OneOf(key, def string, allowed ...string) string {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	v = strings.ToLower(v)
	if !slices.Contains(allowed, v) {
		r.fail(key, v, fmt.Errorf("want one of %s", strings.Join(allowed, ", ")))
		return def
	}
	return v
}

func (r *Reader) StringsCSV(key string, def []string) []string {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	out := make([]string, 0, strings.Count(v, ",")+1)
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func (r *Reader) Int(key string, def int) int {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return n
}

func (r *Reader) Bool(key string, def bool) bool {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return b
}

func (r *Reader) Duration(key string, def time.Duration) time.Duration {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	if d < 0 {
		r.fail(key, v, errors.New("negative duration"))
		return def
	}
	return d
}
