package main

import "fmt"

func errRequired(flag string) error {
	return fmt.Errorf("--%s is required", flag)
}

func errInvalid(flag, reason string) error {
	return fmt.Errorf("--%s: %s", flag, reason)
}
