package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "swipe"

// Jar is a privileged cookie jar: the only place a session credential
// can be read from.
type Jar interface {
	// Cookie returns the value of the named cookie for domain, or
	// ErrCookieNotFound.
	Cookie(ctx context.Context, domain, name string) (string, error)
}

// ErrCookieNotFound is returned by a Jar when the cookie is absent.
var ErrCookieNotFound = errors.New("cookie not found")

// KeyringJar stores session cookies in the system keyring.
type KeyringJar struct {
	open func() (keyring.Keyring, error)
}

// NewKeyringJar returns a jar backed by the platform keyring.
func NewKeyringJar() *KeyringJar {
	return &KeyringJar{open: openKeyring}
}

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/swipe/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("swipe-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

func cookieKey(domain, name string) string {
	return "cookie:" + domain + ":" + name
}

// Cookie reads a cookie value from the keyring.
func (j *KeyringJar) Cookie(_ context.Context, domain, name string) (string, error) {
	ring, err := j.open()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(cookieKey(domain, name))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrCookieNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting cookie %q: %w", name, err)
	}

	return string(item.Data), nil
}

// SetCookie stores a cookie value in the keyring.
func (j *KeyringJar) SetCookie(domain, name, value string) error {
	ring, err := j.open()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:         cookieKey(domain, name),
		Data:        []byte(value),
		Label:       "swipe session cookie " + name,
		Description: "session credential for " + domain,
	})
	if err != nil {
		return fmt.Errorf("setting cookie %q: %w", name, err)
	}

	return nil
}

// DeleteCookie removes a cookie from the keyring.
func (j *KeyringJar) DeleteCookie(domain, name string) error {
	ring, err := j.open()
	if err != nil {
		return err
	}

	err = ring.Remove(cookieKey(domain, name))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting cookie %q: %w", name, err)
	}

	return nil
}

// StaticJar is an in-memory jar, used for tokens supplied through the
// environment and in tests.
type StaticJar map[string]string

// Cookie implements Jar.
func (j StaticJar) Cookie(_ context.Context, domain, name string) (string, error) {
	v, ok := j[cookieKey(domain, name)]
	if !ok || v == "" {
		return "", ErrCookieNotFound
	}
	return v, nil
}

// Set stores a cookie value.
func (j StaticJar) Set(domain, name, value string) {
	j[cookieKey(domain, name)] = value
}
