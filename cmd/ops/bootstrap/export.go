package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// ExportEnv reads every stored parameter back and writes a local .env
// file readable only by the owner. Missing optional parameters are omitted.
func ExportEnv(ctx context.Context, store *Store, params []Param, path string) error {
	env := make(map[string]string, len(params))
	for _, p := range params {
		full := store.Path(p.Key)
		exists, err := store.Exists(ctx, full)
		if err != nil {
			return err
		}
		if !exists {
			if p.Optional {
				continue
			}
			return fmt.Errorf("required parameter %s is not set", full)
		}
		v, err := store.Get(ctx, full)
		if err != nil {
			return err
		}
		env[p.EnvVar] = v
	}
	if len(env) == 0 {
		return errors.New("no parameters to export")
	}

	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}

// PointerEnv renders the *_SSM_PARAM variables the deployed function needs.
func PointerEnv(store *Store, params []Param) (string, error) {
	env := make(map[string]string, len(params))
	for _, p := range params {
		env[p.EnvVar+"_SSM_PARAM"] = store.Path(p.Key)
	}
	return godotenv.Marshal(env)
}
