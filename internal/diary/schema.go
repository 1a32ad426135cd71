package diary

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalidDocument marks payloads that do not match the section schema.
var ErrInvalidDocument = errors.New("invalid document")

const schemaBaseURL = "https://diarysync.local/schemas/"

const (
	datePattern = `"date": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"}`
	nameString  = `{"type": "string", "minLength": 1}`
)

var docSchemaSources = map[Section]string{
	SectionSleep: `{
		"type": "object",
		"required": ["date"],
		"properties": {
			` + datePattern + `,
			"hoursSlept": {"type": "string"},
			"troubleFalling": {"type": "string"},
			"troubleStaying": {"type": "string"},
			"troubleWaking": {"type": "string"}
		}
	}`,
	SectionEmotions: `{
		"type": "object",
		"required": ["date"],
		"properties": {
			` + datePattern + `,
			"emotions": {"type": "object", "additionalProperties": {"type": "string"}}
		}
	}`,
	SectionUrges: `{
		"type": "object",
		"required": ["date"],
		"properties": {
			` + datePattern + `,
			"urges": {
				"type": "object",
				"additionalProperties": {
					"type": "object",
					"properties": {
						"level": {"type": "string"},
						"action": {"type": "string"}
					}
				}
			}
		}
	}`,
	SectionSkills: `{
		"type": "object",
		"required": ["date"],
		"properties": {
			` + datePattern + `,
			"skills": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["category", "skill", "used"],
					"properties": {
						"category": ` + nameString + `,
						"skill": ` + nameString + `,
						"used": {"type": "boolean"}
					}
				}
			}
		}
	}`,
	SectionEvents: `{
		"type": "object",
		"required": ["date"],
		"properties": {
			` + datePattern + `,
			"text": {"type": "string"}
		}
	}`,
}

var writeSchemaSources = map[Section]string{
	SectionSleep: `{
		"type": "object",
		"required": ["date"],
		"minProperties": 2,
		"additionalProperties": false,
		"properties": {
			` + datePattern + `,
			"hoursSlept": {"type": "string"},
			"troubleFalling": {"type": "string"},
			"troubleStaying": {"type": "string"},
			"troubleWaking": {"type": "string"}
		}
	}`,
	SectionEmotions: `{
		"type": "object",
		"required": ["date", "emotion", "rating"],
		"additionalProperties": false,
		"properties": {
			` + datePattern + `,
			"emotion": ` + nameString + `,
			"rating": {"type": "string"}
		}
	}`,
	SectionUrges: `{
		"type": "object",
		"required": ["date", "urge"],
		"additionalProperties": false,
		"anyOf": [{"required": ["level"]}, {"required": ["action"]}],
		"properties": {
			` + datePattern + `,
			"urge": ` + nameString + `,
			"level": {"type": "string"},
			"action": {"type": "string"}
		}
	}`,
	SectionSkills: `{
		"type": "object",
		"required": ["date", "category", "skill", "used"],
		"additionalProperties": false,
		"properties": {
			` + datePattern + `,
			"category": ` + nameString + `,
			"skill": ` + nameString + `,
			"used": {"type": "boolean"}
		}
	}`,
	SectionEvents: `{
		"type": "object",
		"required": ["date", "text"],
		"additionalProperties": false,
		"properties": {
			` + datePattern + `,
			"text": {"type": "string"}
		}
	}`,
}

type compiledSchemas struct {
	docs   map[Section]*jsonschema.Schema
	writes map[Section]*jsonschema.Schema
}

var (
	schemasOnce sync.Once
	schemas     compiledSchemas
	schemasErr  error
)

func loadSchemas() (compiledSchemas, error) {
	schemasOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compile := func(kind string, sources map[Section]string) (map[Section]*jsonschema.Schema, error) {
			out := make(map[Section]*jsonschema.Schema, len(sources))
			for section, src := range sources {
				doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
				if err != nil {
					return nil, fmt.Errorf("parse %s schema for %s: %w", kind, section, err)
				}
				url := schemaBaseURL + kind + "/" + string(section) + ".json"
				if err := compiler.AddResource(url, doc); err != nil {
					return nil, fmt.Errorf("add %s schema for %s: %w", kind, section, err)
				}
				sch, err := compiler.Compile(url)
				if err != nil {
					return nil, fmt.Errorf("compile %s schema for %s: %w", kind, section, err)
				}
				out[section] = sch
			}
			return out, nil
		}
		docs, err := compile("doc", docSchemaSources)
		if err != nil {
			schemasErr = err
			return
		}
		writes, err := compile("write", writeSchemaSources)
		if err != nil {
			schemasErr = err
			return
		}
		schemas = compiledSchemas{docs: docs, writes: writes}
	})
	return schemas, schemasErr
}

// ValidateDoc checks a GET response body against the section schema.
func ValidateDoc(section Section, raw []byte) error {
	set, err := loadSchemas()
	if err != nil {
		return err
	}
	return validate(set.docs, section, raw)
}

// ValidateWrite checks a POST body against the section schema.
func ValidateWrite(section Section, raw []byte) error {
	set, err := loadSchemas()
	if err != nil {
		return err
	}
	return validate(set.writes, section, raw)
}

func validate(set map[Section]*jsonschema.Schema, section Section, raw []byte) error {
	sch, ok := set[section]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocalOnly, section)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return errors.Join(ErrInvalidDocument, err)
	}
	if err := sch.Validate(inst); err != nil {
		return errors.Join(ErrInvalidDocument, err)
	}
	return nil
}
