package log

import "log/slog"

func RunID[T ~string](id T) slog.Attr {
	return slog.String("run_id", string(id))
}

func FlowName[T ~string](name T) slog.Attr {
	return slog.String("flow", string(name))
}

func StepName[T ~string](name T) slog.Attr {
	return slog.String("step", string(name))
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Attempt(num int) slog.Attr {
	return slog.Int("attempt", num)
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
