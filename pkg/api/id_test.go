package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/tartan/pkg/api"
)

func TestNewRunID(t *testing.T) {
	a := api.NewRunID()
	b := api.NewRunID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, api.FlowName("order-flow"),
		api.SanitizeID(api.FlowName(" Order Flow! ")))
	assert.Equal(t, api.StepName("a.b_c+1"),
		api.SanitizeID(api.StepName("A.B_C+1")))
	assert.Equal(t, api.RunID("run"), api.SanitizeID(api.RunID("--run:--")))
}

func TestStepNameValidate(t *testing.T) {
	assert.NoError(t, api.StepName("charge card").Validate())
	assert.NoError(t, api.StepName("greet-1").Validate())

	for _, name := range []api.StepName{"", "a:1:x", "run/step"} {
		assert.ErrorIs(t, name.Validate(), api.ErrInvalidStepName)
	}
}

func TestStartRunRequestValidate(t *testing.T) {
	assert.NoError(t, (&api.StartRunRequest{Flow: "f"}).Validate())
	assert.ErrorIs(t,
		(&api.StartRunRequest{}).Validate(), api.ErrFlowNameEmpty,
	)
	assert.ErrorIs(t,
		(&api.StartRunRequest{Flow: "f", ID: "a:b"}).Validate(),
		api.ErrRunIDInvalid,
	)
}
