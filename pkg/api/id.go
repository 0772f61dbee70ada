package api

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

type (
	// RunID uniquely identifies a flow run
	RunID string

	// FlowName identifies a registered flow definition
	FlowName string

	// StepName identifies a step within a run. Step names must be stable
	// across replays of the same run
	StepName string

	// PageName identifies a UI page within a run
	PageName string

	// RunStep identifies a step execution within a run
	RunStep struct {
		RunID RunID
		Step  StepName
	}
)

// InvalidIDChars matches characters not permitted in run IDs and names.
// Valid characters are: letters, digits, underscore, dot, hyphen, plus, space
var InvalidIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.\-+ ]`)

// stepNameReserved delimits child run IDs and scheduler wait keys
const stepNameReserved = ":/"

var ErrInvalidStepName = errors.New("invalid step name")

// NewRunID returns a new random run identifier
func NewRunID() RunID {
	return RunID(uuid.NewString())
}

// SanitizeID lowercases an ID, removes invalid characters, replaces spaces
// with hyphens, and trims leading and trailing hyphens
func SanitizeID[T ~string](id T) T {
	lower := strings.ToLower(string(id))
	sanitized := InvalidIDChars.ReplaceAllString(lower, "")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	return T(strings.Trim(sanitized, "-"))
}

// Validate checks that the step name is non-empty and free of the
// characters that child run IDs and wait keys are built with
func (n StepName) Validate() error {
	if n == "" || strings.ContainsAny(string(n), stepNameReserved) {
		return fmt.Errorf("%w: %q", ErrInvalidStepName, n)
	}
	return nil
}
