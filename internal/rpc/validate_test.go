package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

type sampleParams struct {
	FilePath string `json:"file_path" validate:"required"`
	Status   string `json:"status" validate:"omitempty,oneof=pass fail"`
}

func TestBindParamsRequiredField(t *testing.T) {
	var p sampleParams
	err := BindParams(json.RawMessage(`{}`), &p)
	de, ok := AsDomainError(err)
	assert.True(t, ok)
	assert.Equal(t, KindInvalidParams, de.Kind)
}

func TestBindParamsOneOf(t *testing.T) {
	var p sampleParams
	err := BindParams(json.RawMessage(`{"file_path":"a.md","status":"archived"}`), &p)
	de, ok := AsDomainError(err)
	assert.True(t, ok)
	assert.Equal(t, KindInvalidParams, de.Kind)
}

func TestBindParamsValid(t *testing.T) {
	var p sampleParams
	err := BindParams(json.RawMessage(`{"file_path":"a.md","status":"pass"}`), &p)
	assert.NoError(t, err)
	assert.Equal(t, "a.md", p.FilePath)
}

func TestBindParamsEmptyRawDefaultsToEmptyObject(t *testing.T) {
	var p sampleParams
	err := BindParams(nil, &p)
	de, ok := AsDomainError(err)
	assert.True(t, ok)
	assert.Equal(t, KindInvalidParams, de.Kind)
}

func TestBindParamsInvalidJSON(t *testing.T) {
	var p sampleParams
	err := BindParams(json.RawMessage(`not json`), &p)
	de, ok := AsDomainError(err)
	assert.True(t, ok)
	assert.Equal(t, KindInvalidParams, de.Kind)
}
