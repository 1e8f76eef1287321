// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package keyring holds the symmetric keys used to
// decrypt encrypted table sections, indexed by
// their 64-bit lookup id.
//
// Keyring files are YAML (or JSON) documents of the form
//
//	keys:
//	  FA505078126ACB3E: BDC51862ABED79B2DE48C8E7E66C6200
//
// where both the lookup id and the key are hex strings.
// Keys must be 16 or 32 bytes.
package keyring

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"sigs.k8s.io/yaml"
)

// Ring is a set of keys. The zero value is an empty Ring.
// A Ring is safe for concurrent use.
type Ring struct {
	lock sync.RWMutex
	keys map[uint64][]byte
}

// New returns an empty Ring.
func New() *Ring {
	return &Ring{}
}

func validKey(key []byte) error {
	if len(key) != 16 && len(key) != 32 {
		return fmt.Errorf("keyring: key length %d (want 16 or 32)", len(key))
	}
	return nil
}

// Add stores a copy of key under lookup,
// replacing any existing key.
func (r *Ring) Add(lookup uint64, key []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.keys == nil {
		r.keys = make(map[uint64][]byte)
	}
	if old, ok := r.keys[lookup]; ok {
		wipe(old)
	}
	r.keys[lookup] = append([]byte(nil), key...)
	return nil
}

// Key returns a copy of the key stored under lookup.
func (r *Ring) Key(lookup uint64) ([]byte, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	k, ok := r.keys[lookup]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), k...), true
}

// Len returns the number of keys in the ring.
func (r *Ring) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.keys)
}

// IDs returns the lookup ids in ascending order.
func (r *Ring) IDs() []uint64 {
	r.lock.RLock()
	ids := maps.Keys(r.keys)
	r.lock.RUnlock()
	slices.Sort(ids)
	return ids
}

// Wipe zeroes and removes every key.
func (r *Ring) Wipe() {
	r.lock.Lock()
	defer r.lock.Unlock()
	for id, k := range r.keys {
		wipe(k)
		delete(r.keys, id)
	}
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// file is the on-disk keyring document.
type file struct {
	Keys map[string]string `json:"keys"`
}

// Parse decodes a YAML or JSON keyring document into r.
func (r *Ring) Parse(doc []byte) error {
	var f file
	if err := yaml.Unmarshal(doc, &f); err != nil {
		return fmt.Errorf("keyring: %w", err)
	}
	for id, key := range f.Keys {
		lookup, err := strconv.ParseUint(strings.TrimPrefix(id, "0x"), 16, 64)
		if err != nil {
			return fmt.Errorf("keyring: bad lookup id %q: %w", id, err)
		}
		raw, err := hex.DecodeString(key)
		if err != nil {
			return fmt.Errorf("keyring: key %s: %w", id, err)
		}
		err = r.Add(lookup, raw)
		wipe(raw)
		if err != nil {
			return fmt.Errorf("keyring: key %s: %w", id, err)
		}
	}
	return nil
}

// Load reads a keyring file.
func Load(path string) (*Ring, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := New()
	if err := r.Parse(doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Marshal encodes r as a YAML keyring document.
func (r *Ring) Marshal() ([]byte, error) {
	r.lock.RLock()
	f := file{Keys: make(map[string]string, len(r.keys))}
	for id, k := range r.keys {
		f.Keys[fmt.Sprintf("%016X", id)] = strings.ToUpper(hex.EncodeToString(k))
	}
	r.lock.RUnlock()
	return yaml.Marshal(&f)
}

// Fingerprint returns a short, non-reversible
// identifier for key that is safe to log.
func Fingerprint(key []byte) string {
	sum := blake2b.Sum256(key)
	return hex.EncodeToString(sum[:6])
}
