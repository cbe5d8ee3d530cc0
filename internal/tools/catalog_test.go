package tools_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartbridge/chartbridge/internal/tools"
)

func TestLoad(t *testing.T) {
	catalog, err := tools.Load()
	require.NoError(t, err)

	names := []string{}
	for _, tool := range catalog.Tools() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{
		"get_patient",
		"search_patients",
		"get_patient_conditions",
		"get_patient_medications",
		"get_patient_observations",
		"get_patient_allergies",
		"get_patient_immunizations",
		"get_patient_procedures",
	}, names)
}

func TestLookup(t *testing.T) {
	catalog, err := tools.Load()
	require.NoError(t, err)

	tool, ok := catalog.Lookup("get_patient_observations")
	require.True(t, ok)
	assert.Equal(t, "Observation", tool.Resource)
	assert.Equal(t, "bundle", tool.Format)

	_, ok = catalog.Lookup("get_patient_notes")
	assert.False(t, ok)
}

func TestToolJSONShape(t *testing.T) {
	catalog, err := tools.Load()
	require.NoError(t, err)

	tool, ok := catalog.Lookup("get_patient_observations")
	require.True(t, ok)

	encoded, err := json.Marshal(tool)
	require.NoError(t, err)

	var decoded struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		InputSchema struct {
			Type       string                    `json:"type"`
			Properties map[string]map[string]any `json:"properties"`
			Required   []string                  `json:"required"`
		} `json:"inputSchema"`
	}
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	assert.Equal(t, "get_patient_observations", decoded.Name)
	assert.NotEmpty(t, decoded.Description)
	assert.Equal(t, "object", decoded.InputSchema.Type)
	assert.Equal(t, []string{"patient_id"}, decoded.InputSchema.Required)

	category, ok := decoded.InputSchema.Properties["category"]
	require.True(t, ok)
	assert.Equal(t, "string", category["type"])
	assert.ElementsMatch(t,
		[]any{"vital-signs", "laboratory", "imaging", "social-history"},
		category["enum"])
}

func TestSearchPatientsHasNoRequiredArguments(t *testing.T) {
	catalog, err := tools.Load()
	require.NoError(t, err)

	tool, ok := catalog.Lookup("search_patients")
	require.True(t, ok)

	encoded, err := json.Marshal(tool)
	require.NoError(t, err)

	var decoded struct {
		InputSchema struct {
			Required []string `json:"required"`
		} `json:"inputSchema"`
	}
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Empty(t, decoded.InputSchema.Required)
}
