package config

import "context"

// SecretProvider resolves secret references (SSM parameter paths or
// equivalent identifiers) to plaintext values. Keys that cannot be found are
// omitted from the result.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
