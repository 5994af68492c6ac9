// Package addrbook keeps the well-known addresses of a deployment in
// plain-text files, one base58 address per file.
package addrbook

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"go.uber.org/zap/zapcore"

	"github.com/fancoin/rostermint/address"
)

const (
	RegistryFile = "registry_address.txt"
	AssetFile    = "asset_address.txt"
	RoleFile     = "role_address.txt"
)

var ErrNotFound = errors.New("address file not found")

// Book reads and writes address files in one directory.
type Book struct {
	dir string
}

func New(dir string) Book {
	return Book{dir: dir}
}

func (b Book) path(name string) string {
	return filepath.Join(b.dir, name)
}

// Save atomically replaces the address stored under name.
func (b Book) Save(name string, addr address.Address) error {
	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return fmt.Errorf("creating address book directory: %w", err)
	}
	if err := atomic.WriteFile(b.path(name), bytes.NewBufferString(addr.String()+"\n")); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// Load returns the address stored under name, or ErrNotFound.
func (b Book) Load(name string) (address.Address, error) {
	data, err := os.ReadFile(b.path(name)) //#nosec G304
	switch {
	case errors.Is(err, os.ErrNotExist):
		return address.Zero, fmt.Errorf("%w: %s", ErrNotFound, name)
	case err != nil:
		return address.Zero, fmt.Errorf("loading %s: %w", name, err)
	}
	addr, err := address.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return address.Zero, fmt.Errorf("parsing %s: %w", name, err)
	}
	return addr, nil
}

// Addresses are the accounts a deployment is operated against.
type Addresses struct {
	Registry address.Address
	Asset    address.Address
	Role     address.Address
}

func (a Addresses) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("registry", a.Registry.String())
	enc.AddString("asset", a.Asset.String())
	enc.AddString("role", a.Role.String())
	return nil
}

// Resolve fills the zero fields of a from the book. Addresses that are
// neither set nor stored stay zero.
func (b Book) Resolve(a Addresses) (Addresses, error) {
	for _, f := range []struct {
		name string
		addr *address.Address
	}{
		{RegistryFile, &a.Registry},
		{AssetFile, &a.Asset},
		{RoleFile, &a.Role},
	} {
		if !f.addr.IsZero() {
			continue
		}
		stored, err := b.Load(f.name)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return a, err
		default:
			*f.addr = stored
		}
	}
	return a, nil
}

// SaveAll stores every non-zero address of a.
func (b Book) SaveAll(a Addresses) error {
	for name, addr := range map[string]address.Address{
		RegistryFile: a.Registry,
		AssetFile:    a.Asset,
		RoleFile:     a.Role,
	} {
		if addr.IsZero() {
			continue
		}
		if err := b.Save(name, addr); err != nil {
			return err
		}
	}
	return nil
}
