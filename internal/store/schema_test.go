package store_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"offrecord/internal/domain"
	"offrecord/internal/store"
)

const fingerprintSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "contacts"],
  "properties": {
    "version": {"const": 1},
    "contacts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["account", "protocol", "username", "fingerprints"],
        "properties": {
          "account": {"type": "string", "minLength": 1},
          "protocol": {"type": "string", "minLength": 1},
          "username": {"type": "string", "minLength": 1},
          "fingerprints": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["fingerprint", "trust", "first_seen", "last_seen"],
              "properties": {
                "fingerprint": {"type": "string", "pattern": "^[0-9a-f]{40}$"},
                "trust": {"type": "string"},
                "first_seen": {"type": "string"},
                "last_seen": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

const instagSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "tags"],
  "properties": {
    "version": {"const": 1},
    "tags": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["account", "protocol", "tag"],
        "properties": {
          "account": {"type": "string"},
          "protocol": {"type": "string"},
          "tag": {"type": "integer", "minimum": 256, "maximum": 4294967295}
        }
      }
    }
  }
}`

const keySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["v", "kdf", "salt", "cipher"],
  "properties": {
    "v": {"const": 1},
    "kdf": {"enum": ["scrypt", "argon2id"]},
    "salt": {"type": "string"},
    "cipher": {"type": "string"}
  }
}`

func validate(t *testing.T, schemaText, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var instance any
	require.NoError(t, json.Unmarshal(data, &instance))

	compiler := jsonschema.NewCompiler()
	url := "mem://" + filepath.Base(path) + ".schema.json"
	require.NoError(t, compiler.AddResource(url, strings.NewReader(schemaText)))
	schema, err := compiler.Compile(url)
	require.NoError(t, err)
	require.NoError(t, schema.Validate(instance))
}

func TestPersistedFormats_MatchSchema(t *testing.T) {
	dir := t.TempDir()
	s := store.New()
	_, err := s.GenerateIdentity("alice", "xmpp")
	require.NoError(t, err)
	s.RecordFingerprint("alice", "xmpp", "bob", domain.Fingerprint{0xab})
	_, err = s.EnsureInstanceTag("alice", "xmpp")
	require.NoError(t, err)

	fp := filepath.Join(dir, "fingerprints.json")
	tags := filepath.Join(dir, "instags.json")
	keys := filepath.Join(dir, "keys.json")
	require.NoError(t, s.SaveFingerprints(fp))
	require.NoError(t, s.SaveInstanceTags(tags))
	require.NoError(t, s.SavePrivateKeys(keys, "pass"))

	validate(t, fingerprintSchema, fp)
	validate(t, instagSchema, tags)
	validate(t, keySchema, keys)
}
