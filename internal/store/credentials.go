package store

import (
	"context"
	"errors"
	"fmt"
)

// Field names of a credential record.
const (
	FieldUsername = "username"
	FieldPassword = "password"
	FieldOutput   = "output"
)

// Key returns the storage key of one field of a site's record.
func Key(prefix, field string) string {
	return prefix + "." + field
}

// Record holds the remembered values for one site. Empty means unset.
type Record struct {
	Username string
	Password string
	Output   string
}

// Credentials reads and writes credential records on top of a Store.
type Credentials struct {
	store Store
}

func NewCredentials(s Store) *Credentials {
	return &Credentials{store: s}
}

// Load returns the record for prefix. Missing fields come back empty.
func (c *Credentials) Load(ctx context.Context, prefix string) (Record, error) {
	var rec Record
	fields := []struct {
		name string
		dst  *string
	}{
		{FieldUsername, &rec.Username},
		{FieldPassword, &rec.Password},
		{FieldOutput, &rec.Output},
	}
	for _, f := range fields {
		v, err := c.store.Get(ctx, Key(prefix, f.name))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Record{}, fmt.Errorf("failed to load %s: %w", Key(prefix, f.name), err)
		}
		*f.dst = v
	}
	return rec, nil
}

// SaveLogin stores the username and password that just authenticated.
func (c *Credentials) SaveLogin(ctx context.Context, prefix, username, password string) error {
	if err := c.store.Set(ctx, Key(prefix, FieldUsername), username); err != nil {
		return err
	}
	return c.store.Set(ctx, Key(prefix, FieldPassword), password)
}

// SaveOutput stores the last output directory used for a site.
func (c *Credentials) SaveOutput(ctx context.Context, prefix, output string) error {
	return c.store.Set(ctx, Key(prefix, FieldOutput), output)
}

// Forget removes every field of the record.
func (c *Credentials) Forget(ctx context.Context, prefix string) error {
	for _, f := range []string{FieldUsername, FieldPassword, FieldOutput} {
		if err := c.store.Delete(ctx, Key(prefix, f)); err != nil {
			return err
		}
	}
	return nil
}
