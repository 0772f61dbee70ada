package builder

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/log"
)

// StepHandler implements a remote step. The returned value becomes the
// step's result in the calling run; a returned error fails the attempt
type StepHandler func(*StepContext) (any, error)

var ErrHandlerPanic = errors.New("step handler panicked")

// NewStepHandler adapts a StepHandler to the request and response bodies
// an engine exchanges with a remote step service
func NewStepHandler(handle StepHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req api.StepRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		sc := NewStepContext(r.Context(), req.Arguments, req.Metadata)
		result := executeWithRecovery(sc, handle)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}

func executeWithRecovery(
	sc *StepContext, handle StepHandler,
) (result *api.StepResult) {
	defer func() {
		if r := recover(); r != nil {
			sc.Logger().Error("Step handler panicked",
				slog.Any("panic", r))
			result = (&api.StepResult{}).WithError(
				fmt.Errorf("%w: %v", ErrHandlerPanic, r),
			)
		}
	}()

	out, err := handle(sc)
	if err != nil {
		sc.Logger().Warn("Step handler failed", log.Error(err))
		return (&api.StepResult{}).WithError(err)
	}
	v, err := api.NewValue(out)
	if err != nil {
		return (&api.StepResult{}).WithError(err)
	}
	return &api.StepResult{Output: v, Success: true}
}
