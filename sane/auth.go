package sane

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Resources demanding an MD5-derived password carry this marker followed
// by the salt, e.g. "net:backend$MD5$3cbf1f32".
const md5Marker = "$MD5$"

// PasswordProvider supplies credentials for resources that demand
// authorization during an RPC.
type PasswordProvider interface {
	// CanAuthenticate reports whether credentials exist for the
	// given resource.
	CanAuthenticate(resource string) bool
	// Username returns the username to send for the resource.
	Username(resource string) string
	// Password returns the cleartext password for the resource.
	Password(resource string) string
}

// encodedPassword derives the wire form of a password. When the resource
// carries an MD5 salt the password is replaced by
// "$MD5$" + hex(md5(salt || password)) over ISO-8859-1 bytes; otherwise
// it is sent as-is.
func encodedPassword(resource, password string) (string, error) {
	i := strings.Index(resource, md5Marker)
	if i < 0 {
		return password, nil
	}
	salt := resource[i+len(md5Marker):]
	saltBytes, err := latin1(salt)
	if err != nil {
		return "", err
	}
	passBytes, err := latin1(password)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(append(saltBytes, passBytes...))
	return md5Marker + hex.EncodeToString(sum[:]), nil
}

// backendName strips any "$MD5$<salt>" suffix from a resource, leaving
// the backend name credentials are filed under.
func backendName(resource string) string {
	if i := strings.Index(resource, md5Marker); i >= 0 {
		return resource[:i]
	}
	return resource
}

// fixedPasswordProvider serves one username/password pair for every
// resource.
type fixedPasswordProvider struct {
	username, password string
}

// FixedPasswordProvider returns a provider that answers every resource
// with the same credentials.
func FixedPasswordProvider(username, password string) PasswordProvider {
	return &fixedPasswordProvider{username: username, password: password}
}

func (p *fixedPasswordProvider) CanAuthenticate(string) bool { return true }
func (p *fixedPasswordProvider) Username(string) string      { return p.username }
func (p *fixedPasswordProvider) Password(string) string      { return p.password }

// credential is one record of a SANE password file.
type credential struct {
	username, password, backend string
}

// credentialStore holds parsed "user:password:backend" records and serves
// them by backend name.
type credentialStore struct {
	creds []credential
}

// parseCredentials reads "user:password:backend" lines. Records with
// fewer than three fields are skipped with a warning; for duplicate
// backends the first record wins.
func parseCredentials(r io.Reader) (*credentialStore, error) {
	store := &credentialStore{}
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(fromLatin1(scanner.Bytes()))
		if text == "" {
			continue
		}
		fields := strings.SplitN(text, ":", 3)
		if len(fields) < 3 {
			slog.Warn("malformed credential line, skipping", "line", line)
			continue
		}
		backend := fields[2]
		if seen[backend] {
			slog.Warn("duplicate credential entry, keeping the first", "backend", backend, "line", line)
			continue
		}
		seen[backend] = true
		store.creds = append(store.creds, credential{
			username: fields[0],
			password: fields[1],
			backend:  backend,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return store, nil
}

// lookup returns the first credential filed under the resource's backend
// name.
func (s *credentialStore) lookup(resource string) (credential, bool) {
	name := backendName(resource)
	for _, c := range s.creds {
		if c.backend == name {
			return c, true
		}
	}
	return credential{}, false
}

// filePasswordProvider serves credentials from a SANE password file.
type filePasswordProvider struct {
	store *credentialStore
}

// FilePasswordProvider reads a SANE password file ("user:password:backend"
// per line, ISO-8859-1) and serves credentials by backend name.
func FilePasswordProvider(path string) (PasswordProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	store, err := parseCredentials(f)
	if err != nil {
		return nil, err
	}
	return &filePasswordProvider{store: store}, nil
}

// DefaultPasswordProvider serves credentials from $HOME/.sane/pass, the
// conventional location of the SANE password file.
func DefaultPasswordProvider() (PasswordProvider, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return FilePasswordProvider(filepath.Join(home, ".sane", "pass"))
}

func (p *filePasswordProvider) CanAuthenticate(resource string) bool {
	_, ok := p.store.lookup(resource)
	return ok
}

func (p *filePasswordProvider) Username(resource string) string {
	c, _ := p.store.lookup(resource)
	return c.username
}

func (p *filePasswordProvider) Password(resource string) string {
	c, _ := p.store.lookup(resource)
	return c.password
}
