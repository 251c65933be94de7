// Package replies holds the canned, localized messages the bot sends outside
// of model-generated turns: registration notices, confirmation questions,
// thank-you and cancellation acknowledgements, and the technical-difficulty
// apology.
//
// The texts live in an embedded YAML pack validated against a JSON schema at
// load time, so a malformed pack fails startup instead of producing broken
// messages mid-conversation.
package replies

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed pack.yaml
var packYAML []byte

//go:embed schema.json
var schemaJSON []byte

// Message keys available in every locale of the pack.
const (
	KeyNotRegistered   = "not_registered"
	KeyContactIntro    = "contact_intro"
	KeyThankYou        = "thank_you"
	KeyCancelled       = "cancelled"
	KeyReask           = "reask"
	KeyConfirmQuestion = "confirm_question"
	KeyTechDifficulty  = "tech_difficulty"
)

// defaultLocale is the deployment default and the fallback for every lookup.
const defaultLocale = "he"

// Catalog is a validated, immutable set of localized messages.
type Catalog struct {
	locales map[string]map[string]string
}

type packFile struct {
	Locales map[string]map[string]string `yaml:"locales"`
}

// Load parses and validates the embedded reply pack.
func Load() (*Catalog, error) {
	// The schema operates on generic decoded values, so the pack is
	// unmarshalled twice: once loosely for validation, once into the typed
	// structure.
	var generic any
	if err := yaml.Unmarshal(packYAML, &generic); err != nil {
		return nil, fmt.Errorf("replies: parse pack: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("pack.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("replies: load schema: %w", err)
	}
	schema, err := compiler.Compile("pack.schema.json")
	if err != nil {
		return nil, fmt.Errorf("replies: compile schema: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("replies: invalid pack: %w", err)
	}

	var pack packFile
	if err := yaml.Unmarshal(packYAML, &pack); err != nil {
		return nil, fmt.Errorf("replies: parse pack: %w", err)
	}

	return &Catalog{locales: pack.Locales}, nil
}

// Text returns the message for the given locale and key, falling back to the
// default locale for unknown locales or missing keys.
func (c *Catalog) Text(locale, key string) string {
	if messages, ok := c.locales[locale]; ok {
		if text, ok := messages[key]; ok {
			return text
		}
	}
	return c.locales[defaultLocale][key]
}

// Textf is Text followed by fmt.Sprintf, for messages carrying a placeholder
// such as the confirmation question embedding the pending request.
func (c *Catalog) Textf(locale, key string, args ...any) string {
	return fmt.Sprintf(c.Text(locale, key), args...)
}

// Locales returns the locale tags present in the pack.
func (c *Catalog) Locales() []string {
	tags := make([]string, 0, len(c.locales))
	for tag := range c.locales {
		tags = append(tags, tag)
	}
	return tags
}
