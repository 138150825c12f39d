package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Required returns the trimmed value of k or an error naming the missing variable.
func Required(k string) (string, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return "", fmt.Errorf("%s is required", k)
	}
	return v, nil
}

func Get(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

// GetInt returns def when k is unset and an error when it is set but not an integer.
func GetInt(k string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, invalid(k, v, "an integer")
	}
	return i, nil
}

func GetFloat(k string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, invalid(k, v, "a number")
	}
	return f, nil
}

// GetDuration accepts Go duration syntax or a bare number of seconds.
func GetDuration(k string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	if i, err := strconv.Atoi(v); err == nil {
		return time.Duration(i) * time.Second, nil
	}
	return def, invalid(k, v, "a duration such as 10s or a number of seconds")
}

func invalid(k, v, want string) error {
	return fmt.Errorf("invalid %s %q: want %s", k, v, want)
}
