package config

import (
	"errors"
	"fmt"
)

// RequireIdentitySecrets reports every signing secret the identity API is
// missing, so one run shows them all.
func (c Config) RequireIdentitySecrets() error {
	var errs []error
	for _, s := range []struct {
		env   string
		value []byte
	}{
		{env: "JWT_SECRET", value: c.JWTAccessSecret},
		{env: "JWT_REFRESH_SECRET", value: c.JWTRefreshSecret},
	} {
		if len(s.value) == 0 {
			errs = append(errs, fmt.Errorf("missing required env %s", s.env))
		}
	}
	return errors.Join(errs...)
}
