package patch

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// manifestSchema constrains the patch manifest so a corrupt or
// truncated archive is rejected before any action is trusted.
const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "actions"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "strict": {"type": "boolean"},
    "created_at": {"type": "string"},
    "actions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["path", "kind"],
        "properties": {
          "path": {"type": "string", "minLength": 1},
          "kind": {
            "type": "string",
            "enum": ["create", "delete", "update", "update_zip", "dir_to_file", "file_to_dir", "rename"]
          },
          "old": {"$ref": "#/definitions/signature"},
          "new": {"$ref": "#/definitions/signature"},
          "critical": {"type": "boolean"},
          "optional": {"type": "boolean"},
          "dir": {"type": "boolean"},
          "renamed_from": {"type": "string"},
          "entries": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["name", "op"],
              "properties": {
                "name": {"type": "string", "minLength": 1},
                "op": {"type": "string", "enum": ["add", "update", "remove"]}
              }
            }
          }
        }
      }
    }
  },
  "definitions": {
    "signature": {
      "type": "object",
      "required": ["size", "crc32"],
      "properties": {
        "size": {"type": "integer", "minimum": 0},
        "crc32": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

var (
	manifestSchemaLoader     gojsonschema.JSONLoader
	manifestSchemaLoaderErr  error
	manifestSchemaLoaderOnce sync.Once
)

func loadManifestSchema() (gojsonschema.JSONLoader, error) {
	manifestSchemaLoaderOnce.Do(func() {
		loader := gojsonschema.NewStringLoader(manifestSchema)
		// Compile once so a malformed schema fails fast and loudly.
		if _, err := gojsonschema.NewSchema(loader); err != nil {
			manifestSchemaLoaderErr = fmt.Errorf("failed to compile manifest schema: %w", err)
			return
		}
		manifestSchemaLoader = loader
	})
	return manifestSchemaLoader, manifestSchemaLoaderErr
}

// validateManifest checks raw manifest JSON against the embedded schema.
func validateManifest(raw []byte) error {
	loader, err := loadManifestSchema()
	if err != nil {
		return err
	}

	result, err := gojsonschema.Validate(loader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("failed to validate manifest: %w", err)
	}
	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, issue := range result.Errors() {
		issues = append(issues, issue.String())
	}
	return fmt.Errorf("invalid patch manifest: %s", strings.Join(issues, "; "))
}
