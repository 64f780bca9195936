package contract

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed job_contract.schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource("job_contract.schema.json", strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("register contract schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile("job_contract.schema.json")
	})
	return schema, schemaErr
}

// ValidateBytes checks raw contract JSON against the embedded schema.
func ValidateBytes(data []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("contract is not valid JSON: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("contract schema violation: %w", err)
	}
	return nil
}

// ValidateFile checks the contract at path against the embedded schema.
func ValidateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read contract: %w", err)
	}
	return ValidateBytes(data)
}
