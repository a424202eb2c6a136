package policy

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed device_transit_policy.schema.json
var deviceTransitPolicySchema []byte

const schemaURL = "device_transit_policy.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft7
		if err := compiler.AddResource(schemaURL, bytes.NewReader(deviceTransitPolicySchema)); err != nil {
			schemaErr = fmt.Errorf("add policy schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile policy schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

func ValidationDetail(err error) string {
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		return fmt.Sprintf("%#v", verr)
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func ValidateDeviceTransitPolicy(doc any) error {
	sch, err := loadSchema()
	if err != nil {
		return err
	}
	return sch.Validate(doc)
}
