package call

import "errors"

// Call is a deferred error-returning function
type Call func() error

// Perform runs calls in order and stops on the first error
func Perform(calls ...Call) error {
	for _, c := range calls {
		if err := c(); err != nil {
			return err
		}
	}
	return nil
}

// All runs every call, even after one fails, and joins their errors
func All(calls ...Call) error {
	var errs []error
	for _, c := range calls {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// When returns the call if cond holds, otherwise a call that does nothing
func When(cond bool, c Call) Call {
	if !cond {
		return noop
	}
	return c
}

// Fail returns a call that always reports err
func Fail(err error) Call {
	return func() error {
		return err
	}
}

func noop() error {
	return nil
}
