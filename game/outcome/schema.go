package outcome

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaVersion tags schema-violation logs so drifting model output can
// be correlated with contract revisions.
const SchemaVersion = "v1"

// schemaJSON is the outcome contract. Only the narrative is required;
// every intent field is optional so that partially filled responses
// still validate. Unknown keys are tolerated and dropped on decode.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["narrative"],
  "properties": {
    "narrative": {"type": "string", "minLength": 1},
    "intents": {
      "type": "object",
      "properties": {
        "quest": {
          "type": "object",
          "properties": {
            "action": {"enum": ["none", "offer", "complete", "abandon"]},
            "title": {"type": "string"},
            "summary": {"type": "string"},
            "details": {"type": "object"},
            "requirements": {"type": "object"}
          }
        },
        "combat": {
          "type": "object",
          "properties": {
            "action": {"enum": ["none", "start", "continue", "end"]},
            "enemies": {
              "type": "array",
              "items": {
                "type": "object",
                "required": ["name"],
                "properties": {
                  "name": {"type": "string"},
                  "current_hp": {"type": "integer"},
                  "max_hp": {"type": "integer"},
                  "weapon": {"type": "string"},
                  "status": {"type": "string"}
                }
              }
            },
            "notes": {"type": "string"}
          }
        },
        "poi": {
          "type": "object",
          "properties": {
            "action": {"enum": ["none", "create", "reference"]},
            "name": {"type": "string"},
            "description": {"type": "string"},
            "tags": {"type": "array", "items": {"type": "string"}}
          }
        },
        "meta": {
          "type": "object",
          "properties": {
            "player_mood": {"type": "string"},
            "pacing": {"enum": ["slow", "normal", "fast"]},
            "flags": {"type": "array", "items": {"type": "string"}}
          }
        }
      }
    }
  }
}`

// SchemaJSON returns the raw outcome schema for provider-level
// injection via the llm response format.
func SchemaJSON() json.RawMessage {
	return json.RawMessage(schemaJSON)
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, errors.Wrap(err, "outcome: unmarshal schema")
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("outcome.json", doc); err != nil {
		return nil, errors.Wrap(err, "outcome: add schema resource")
	}
	schema, err := c.Compile("outcome.json")
	if err != nil {
		return nil, errors.Wrap(err, "outcome: compile schema")
	}
	return schema, nil
}
